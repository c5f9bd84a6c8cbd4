package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// BindingErrorMessage 把请求绑定错误转换为对客户端友好的描述
// 校验错误会逐字段展开，其他错误原样返回
func BindingErrorMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	parts := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		switch fieldErr.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fieldErr.Field()))
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s", fieldErr.Field(), fieldErr.Param()))
		case "gt":
			parts = append(parts, fmt.Sprintf("%s must be greater than %s", fieldErr.Field(), fieldErr.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", fieldErr.Field(), fieldErr.Tag()))
		}
	}

	return strings.Join(parts, "; ")
}

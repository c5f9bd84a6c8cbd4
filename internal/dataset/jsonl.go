package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SaveJSONL 将划分序列化为行分隔JSON文件
// 每条样本一行，字段为src和tgt；输出确定且幂等，覆盖已存在的文件
func SaveJSONL(split *Split, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %v", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create jsonl file: %v", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	// 保留文本中的特殊字符，不做HTML转义
	enc.SetEscapeHTML(false)

	for i, ex := range split.Examples {
		if err := enc.Encode(ex); err != nil {
			return fmt.Errorf("failed to encode example %d: %v", i, err)
		}
	}

	return w.Flush()
}

// LoadJSONL 从行分隔JSON文件重建划分
// 与SaveJSONL互为逆操作，逐行解析src/tgt字段
func LoadJSONL(path, name string) (*Split, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open jsonl file: %v", err)
	}
	defer file.Close()

	examples, err := readJSONL(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	return &Split{Name: name, Examples: examples}, nil
}

// readJSONL 从读取器逐行解析样本
func readJSONL(r io.Reader) ([]Example, error) {
	var examples []Example

	scanner := bufio.NewScanner(r)
	// 新闻正文可能很长，放宽单行缓冲上限
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var ex Example
		if err := json.Unmarshal(raw, &ex); err != nil {
			return nil, fmt.Errorf("invalid json at line %d: %v", line, err)
		}
		examples = append(examples, ex)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return examples, nil
}

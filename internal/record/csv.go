package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// WriteCSV 写出表头和全部记录
func WriteCSV(w io.Writer, records []QuestionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for i := range records {
		if err := cw.Write(records[i].Row(Columns)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// AppendCSV 把记录追加到CSV文件，文件不存在时创建
// 已有文件的表头与预期不一致时记录警告并合并列：保留原有列顺序，再补上缺少的列
func AppendCSV(path string, records []QuestionRecord, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	existing, err := readHeader(path)
	if err != nil {
		return err
	}
	if existing == nil {
		return createCSV(path, records)
	}

	header := unionHeader(existing, Columns)
	if !sameColumns(existing, Columns) {
		logger.WithFields(logrus.Fields{
			"path":     path,
			"existing": existing,
			"expected": Columns,
		}).Warn("CSV schema mismatch, merging columns")
	}

	if len(header) == len(existing) {
		return appendRows(path, header, records)
	}
	return rewriteCSV(path, header, records, logger)
}

// readHeader 读取已有文件的表头，文件不存在或为空时返回nil
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	return header, nil
}

func createCSV(path string, records []QuestionRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv: %w", err)
	}
	defer f.Close()
	if err := WriteCSV(f, records); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return f.Close()
}

func appendRows(path string, header []string, records []QuestionRecord) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open csv for append: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	for i := range records {
		if err := cw.Write(records[i].Row(header)); err != nil {
			return fmt.Errorf("failed to append csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to append csv: %w", err)
	}
	return f.Close()
}

// rewriteCSV 表头需要新增列时重写整个文件，旧行补空值
// 比表头长的旧行会被截断并记录警告
func rewriteCSV(path string, header []string, records []QuestionRecord, logger *logrus.Logger) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open csv: %w", err)
	}
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	src.Close()
	if err != nil {
		return fmt.Errorf("failed to read csv: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".satparser-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp csv: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	cw := csv.NewWriter(tmp)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for n, row := range rows[1:] {
		if len(row) > len(header) {
			logger.WithFields(logrus.Fields{
				"path":    path,
				"line":    n + 2,
				"fields":  len(row),
				"columns": len(header),
				"dropped": row[len(header):],
			}).Warn("CSV row longer than header, extra fields dropped")
		}
		padded := make([]string, len(header))
		copy(padded, row)
		if err := cw.Write(padded); err != nil {
			return fmt.Errorf("failed to copy csv row %d: %w", n+2, err)
		}
	}
	for i := range records {
		if err := cw.Write(records[i].Row(header)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func unionHeader(existing, expected []string) []string {
	header := append([]string(nil), existing...)
	seen := make(map[string]bool, len(existing))
	for _, col := range existing {
		seen[col] = true
	}
	for _, col := range expected {
		if !seen[col] {
			header = append(header, col)
		}
	}
	return header
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

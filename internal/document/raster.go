package document

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// RasterizerBinary 整页渲染使用的外部命令
var RasterizerBinary = "pdftoppm"

// RasterizerAvailable 检查渲染命令是否可用
func RasterizerAvailable() bool {
	_, err := exec.LookPath(RasterizerBinary)
	return err == nil
}

// RenderPage 将整页渲染为PNG，index从0开始
func (d *Document) RenderPage(ctx context.Context, index, dpi int) ([]byte, error) {
	if d.closed {
		return nil, ErrDocumentClosed
	}
	if index < 0 || index >= d.pageCount {
		return nil, ErrPageOutOfRange
	}
	if dpi <= 0 {
		dpi = 300
	}

	src, err := d.sourcePath()
	if err != nil {
		return nil, err
	}

	outDir, err := os.MkdirTemp("", "satparser-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create render dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	pageNr := strconv.Itoa(index + 1)
	prefix := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, RasterizerBinary,
		"-f", pageNr,
		"-l", pageNr,
		"-png",
		"-singlefile",
		"-r", strconv.Itoa(dpi),
		src,
		prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed on page %s: %w: %s", RasterizerBinary, pageNr, err, out)
	}

	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page: %w", err)
	}
	return data, nil
}

// sourcePath 返回可供外部命令读取的文件路径
// 从内存打开的文档会写出一个临时文件，在Close时删除
func (d *Document) sourcePath() (string, error) {
	if d.path != "" {
		return d.path, nil
	}
	if d.tempPath != "" {
		return d.tempPath, nil
	}

	f, err := os.CreateTemp("", "satparser-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(d.data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	d.tempPath = f.Name()
	return d.tempPath, nil
}

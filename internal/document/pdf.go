package document

import (
	"fmt"
	"io"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// rawImage pdfcpu导出的原始图片
type rawImage struct {
	objNr  int
	name   string
	format string
	data   []byte
}

// extractImages 导出页面引用的全部图片资源
func extractImages(ctx *model.Context, pageNr int) (images []rawImage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("image extraction panic: %v", p)
		}
	}()

	found, err := pdfcpu.ExtractPageImages(ctx, pageNr, false)
	if err != nil {
		return nil, fmt.Errorf("failed to extract images: %w", err)
	}

	for objNr, img := range found {
		if img.Reader == nil {
			continue
		}
		data, err := io.ReadAll(img.Reader)
		if err != nil || len(data) == 0 {
			continue
		}
		images = append(images, rawImage{
			objNr:  objNr,
			name:   img.Name,
			format: img.FileType,
			data:   data,
		})
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].objNr < images[j].objNr
	})
	return images, nil
}

// placements 解析页面内容流，得到每个图片资源第一次绘制的位置
func (d *Document) placements(pageNr int) map[string]placement {
	r, err := pdfcpu.ExtractPageContent(d.ctx, pageNr)
	if err != nil || r == nil {
		return nil
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	return scanPlacements(content)
}

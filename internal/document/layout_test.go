package document

import (
	"math"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanPlacements(t *testing.T) {
	content := []byte(`q 100 0 0 50 72 600 cm /Im1 Do Q
BT /F1 12 Tf 72 500 Td (a (nested) string with /Im9 Do inside) Tj ET
q 1 0 0 1 10 20 cm q 2 0 0 2 0 0 cm /Im3 Do Q Q
% comment /Im8 Do
q 200 0 0 80 72 300 cm /Im2 Do Q
q 10 0 0 10 0 0 cm /Im1 Do Q`)

	got := scanPlacements(content)
	require.Len(t, got, 3)

	assert.InDelta(t, 650, got["Im1"].top, 1e-9)
	assert.InDelta(t, 600, got["Im1"].bottom, 1e-9, "只记录第一次绘制")
	assert.InDelta(t, 380, got["Im2"].top, 1e-9)
	assert.InDelta(t, 300, got["Im2"].bottom, 1e-9)
	assert.InDelta(t, 22, got["Im3"].top, 1e-9)
	assert.InDelta(t, 20, got["Im3"].bottom, 1e-9)
}

func TestScanPlacementsInlineImage(t *testing.T) {
	content := []byte("q 5 0 0 5 0 0 cm BI /W 1 /H 1 ID \x00\xffDo\x01 EI Q q 1 0 0 1 0 100 cm /Im1 Do Q")
	got := scanPlacements(content)
	require.Len(t, got, 1)
	assert.InDelta(t, 101, got["Im1"].top, 1e-9)
}

func TestGroupBlocks(t *testing.T) {
	runs := []pdf.Text{
		{X: 72, Y: 700, W: 50, FontSize: 12, S: "Question"},
		{X: 127, Y: 700, W: 6, FontSize: 12, S: "1"},
		{X: 72, Y: 686, W: 60, FontSize: 12, S: "What is x?"},
		{X: 72, Y: 600, W: 30, FontSize: 12, S: "A) 2"},
		{X: 72, Y: 650, W: 10, FontSize: 12, S: "   "},
	}

	blocks := groupBlocks(runs)
	require.Len(t, blocks, 2)

	assert.Equal(t, "Question 1\nWhat is x?", blocks[0].Text)
	assert.InDelta(t, 712, blocks[0].Top, 1e-9)
	assert.InDelta(t, 686, blocks[0].Bottom, 1e-9)
	assert.Equal(t, "A) 2", blocks[1].Text)

	assert.Nil(t, groupBlocks(nil))
}

func TestPageElements(t *testing.T) {
	page := &Page{
		Blocks: []TextBlock{
			{Text: "top", Top: 700},
			{Text: "bottom", Top: 400},
		},
		Images: []Image{
			{Seq: 1, Top: 500, Placed: true},
			{Seq: 2},
		},
	}

	elements := page.Elements()
	require.Len(t, elements, 4)

	assert.Equal(t, ElementText, elements[0].Kind)
	assert.Equal(t, "top", elements[0].Block.Text)
	assert.Equal(t, ElementImage, elements[1].Kind)
	assert.Equal(t, 1, elements[1].Image.Seq)
	assert.Equal(t, "bottom", elements[2].Block.Text)
	assert.Equal(t, 2, elements[3].Image.Seq)
	assert.True(t, math.IsInf(elements[3].top, -1))

	assert.Equal(t, "top\nbottom", page.Text())
}

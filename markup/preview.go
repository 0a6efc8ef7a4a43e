package markup

import (
	"fmt"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

var (
	convOnce sync.Once
	conv     *converter.Converter
)

func markdownConverter() *converter.Converter {
	convOnce.Do(func() {
		conv = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	})
	return conv
}

// Preview renders a captured HTML fragment as markdown. Used for log
// lines and MCP tool responses where raw markup is unreadable.
func Preview(html string) (string, error) {
	md, err := markdownConverter().ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("markup: markdown preview: %w", err)
	}
	return md, nil
}

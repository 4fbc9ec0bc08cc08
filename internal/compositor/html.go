package compositor

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/dgnsrekt/scrollframe/internal/types"
)

// TimestampLayout is how capture times are printed in documents.
const TimestampLayout = "1/2/2006, 3:04:05 PM"

// ImageSource returns the src attribute for a frame's image. An empty string
// leaves the image out.
type ImageSource func(types.Frame) string

// DataURLSource embeds the image bytes.
func DataURLSource(f types.Frame) string { return types.DataURL(f.Image) }

// NoImages omits images, for text renderings.
func NoImages(types.Frame) string { return "" }

var (
	annotationPolicy = bluemonday.UGCPolicy()
	mdConverter      = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
)

var documentTmpl = template.Must(template.New("frames").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; max-width: 800px; margin: 20px auto; padding: 20px; background: #f5f5f5; }
    .frame { background: white; margin-bottom: 30px; padding: 20px; border-radius: 12px; box-shadow: 0 2px 8px rgba(0,0,0,0.1); }
    .frame-title { color: #ff934f; font-size: 18px; font-weight: bold; margin-bottom: 10px; }
    .frame img { width: 100%; border-radius: 8px; margin: 10px 0; }
    .annotation { background: #fff3e0; padding: 12px; border-radius: 6px; margin-top: 10px; border-left: 4px solid #ff934f; }
    .timestamp { color: #999; font-size: 12px; margin-top: 8px; }
  </style>
</head>
<body>
  <h1 style="color: #ff934f;">{{.Title}}</h1>
  <p style="color: #666;">Total frames: {{len .Frames}}</p>
{{range .Frames}}
  <div class="frame">
    <div class="frame-title">Frame {{.Number}}</div>
{{- if .Src}}
    <img src="{{.Src}}" alt="Frame {{.Number}}">
{{- end}}
    <div class="timestamp">{{.Time}}</div>
{{- if .Annotation}}
    <div class="annotation"><strong>Note:</strong> {{.Annotation}}</div>
{{- end}}
  </div>
{{end}}
</body>
</html>
`))

type docFrame struct {
	Number     int
	Src        template.URL
	Time       string
	Annotation template.HTML
}

// RenderHTML builds a standalone HTML document for frames. Annotations are
// sanitized; src decides how images are referenced.
func RenderHTML(frames []types.Frame, src ImageSource) (string, error) {
	if src == nil {
		src = DataURLSource
	}
	data := struct {
		Title  string
		Frames []docFrame
	}{Title: "ScreenGrabber Captured Frames"}
	for _, f := range frames {
		data.Frames = append(data.Frames, docFrame{
			Number:     f.Number,
			Src:        template.URL(src(f)),
			Time:       f.Timestamp.Local().Format(TimestampLayout),
			Annotation: template.HTML(annotationPolicy.Sanitize(f.Annotation)),
		})
	}
	var buf bytes.Buffer
	if err := documentTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("compositor: render html: %w", err)
	}
	return buf.String(), nil
}

// Markdown renders frames as a markdown document.
func Markdown(frames []types.Frame, src ImageSource) (string, error) {
	doc, err := RenderHTML(frames, src)
	if err != nil {
		return "", err
	}
	md, err := mdConverter.ConvertString(doc)
	if err != nil {
		return "", fmt.Errorf("compositor: convert markdown: %w", err)
	}
	return md, nil
}

// Summary is the first line of the plain-text clipboard payload.
func Summary(n int) string {
	return fmt.Sprintf("ScreenGrabber - %d frames captured", n)
}

// PlainText is the text/plain companion of the HTML clipboard payload: the
// summary line followed by the frames as markdown without images.
func PlainText(frames []types.Frame) (string, error) {
	md, err := Markdown(frames, NoImages)
	if err != nil {
		return "", err
	}
	md = strings.TrimSpace(md)
	if md == "" {
		return Summary(len(frames)), nil
	}
	return Summary(len(frames)) + "\n\n" + md, nil
}

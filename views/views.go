// Package views embeds the HTML templates rendered by the controllers.
package views

import (
	"embed"
	"net/http"

	"github.com/gofiber/template/html/v2"
)

//go:embed *.html
var files embed.FS

// NewEngine returns the template engine over the embedded views.
func NewEngine() *html.Engine {
	return html.NewFileSystem(http.FS(files), ".html")
}

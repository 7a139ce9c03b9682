// Package static embeds the single-page client.
package static

import "embed"

//go:embed index.html app.js style.css
var FS embed.FS

package app

import (
	"log/slog"
	"mime"
)

// Minimal containers ship without /etc/mime.types, which leaves embedded
// assets served as text/plain.
var staticMimeTypes = map[string]string{
	".css": "text/css; charset=utf-8",
	".svg": "image/svg+xml",
}

func init() {
	for ext, typ := range staticMimeTypes {
		if mime.TypeByExtension(ext) != "" {
			continue
		}
		if err := mime.AddExtensionType(ext, typ); err != nil {
			slog.Warn("app: register mime type", slog.String("ext", ext), slog.Any("error", err))
		}
	}
}

// Package web embeds the page templates and static assets so the server
// binary has no runtime file dependencies.
package web

import "embed"

//go:embed templates/*.html static/*
var FS embed.FS

package main

import (
	"path"
	"strings"
)

// containerName derives a container name from an image reference:
// "registry.example.com:5000/team/billing" becomes "billing".
func containerName(image string) string {
	name := path.Base(image)
	if i := strings.IndexAny(name, ":@"); i >= 0 {
		name = name[:i]
	}
	return name
}

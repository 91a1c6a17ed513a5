package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainerName(t *testing.T) {
	tests := map[string]string{
		"billing":                                "billing",
		"library/nginx":                          "nginx",
		"registry.example.com:5000/team/billing": "billing",
		"app:1.0":                                "app",
		"app@sha256:abcd":                        "app",
	}
	for image, want := range tests {
		assert.Equal(t, want, containerName(image), image)
	}
}

// ABOUTME: Tests for the message projection and history paging parameters
// ABOUTME: Covers content fallback and page/page-size clamping

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageText(t *testing.T) {
	m := &Message{}
	assert.Equal(t, "", m.Text())

	content := "hello"
	m.Content = &content
	assert.Equal(t, "hello", m.Text())
}

func TestListParamsClamp(t *testing.T) {
	tests := []struct {
		name     string
		in       ListParams
		wantPage int
		wantSize int
	}{
		{"defaults", ListParams{}, 1, 20},
		{"zero page", ListParams{Page: 0, PageSize: 50}, 1, 50},
		{"negative page", ListParams{Page: -3, PageSize: 10}, 1, 10},
		{"oversized page size", ListParams{Page: 2, PageSize: 5000}, 2, 100},
		{"in range", ListParams{Page: 7, PageSize: 25}, 7, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.clamp()
			assert.Equal(t, tt.wantPage, got.Page)
			assert.Equal(t, tt.wantSize, got.PageSize)
		})
	}
}

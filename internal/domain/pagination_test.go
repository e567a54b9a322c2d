package domain

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageRequest_Limit(t *testing.T) {
	assert.Equal(t, DefaultMaxResults, PageRequest{}.Limit())
	assert.Equal(t, 10, PageRequest{MaxResults: 10}.Limit())
	assert.Equal(t, MaxMaxResults, PageRequest{MaxResults: MaxMaxResults + 1}.Limit())
}

func TestPageRequest_Offset(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "empty", token: "", want: 0},
		{name: "valid", token: base64.StdEncoding.EncodeToString([]byte("20")), want: 20},
		{name: "not base64", token: "!!!", want: 0},
		{name: "negative", token: base64.StdEncoding.EncodeToString([]byte("-5")), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PageRequest{PageToken: tt.token}.Offset())
		})
	}
}

func TestNextPageToken(t *testing.T) {
	assert.Empty(t, NextPageToken(0, 10, 10))
	assert.Empty(t, NextPageToken(0, 10, 5))

	token := NextPageToken(0, 10, 25)
	assert.Equal(t, 10, PageRequest{PageToken: token}.Offset())
	assert.Equal(t, 20, PageRequest{PageToken: NextPageToken(10, 10, 25)}.Offset())
}

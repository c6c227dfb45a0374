package core

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailMessage_Attach(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		contentType []string
		wantType    string
	}{
		{name: "explicit type", content: "band 7.5", contentType: []string{"text/csv"}, wantType: "text/csv"},
		{name: "detected type", content: "band 7.5", wantType: "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg EmailMessage
			require.NoError(t, msg.Attach(strings.NewReader(tt.content), "report.txt", tt.contentType...))

			require.True(t, msg.HasAttachments())
			at := msg.Attachments[0]
			assert.Equal(t, "report.txt", at.Filename)
			assert.Equal(t, tt.wantType, at.ContentType)
			assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(tt.content)), at.Content.String())
		})
	}
}

func TestEmailMessage_AttachFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writing-feedback.txt")
	require.NoError(t, os.WriteFile(path, []byte("Task 2: coherent argument"), 0o600))

	var msg EmailMessage
	require.NoError(t, msg.AttachFile(path))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "writing-feedback.txt", msg.Attachments[0].Filename)
	assert.Equal(t, "text/plain; charset=utf-8", msg.Attachments[0].ContentType)

	err := msg.AttachFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.Len(t, msg.Attachments, 1)
}

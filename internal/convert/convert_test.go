// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/pdiddy/review-engine/pkg/types"
)

// fakeConverter returns canned text or an error.
type fakeConverter struct {
	output string
	err    error
	got    []byte
}

func (f *fakeConverter) Convert(_ context.Context, r io.Reader) (string, error) {
	f.got, _ = io.ReadAll(r)
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func TestDecode(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().String("文献综述")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{name: "utf-8", in: []byte("plain text ü"), want: "plain text ü"},
		{name: "utf-8 with BOM", in: []byte("\xef\xbb\xbfhello"), want: "hello"},
		{name: "gbk", in: []byte(gbk), want: "文献综述"},
		{name: "latin-1", in: []byte("caf\xe9"), want: "café"},
		{name: "empty", in: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abcdef", 3, "abc"},
		{"abc", 3, "abc"},
		{"abc", 0, "abc"},
		{"日本語テキスト", 3, "日本語"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.n), "Truncate(%q, %d)", tt.in, tt.n)
	}
}

func TestText(t *testing.T) {
	t.Run("txt is decoded and trimmed", func(t *testing.T) {
		got, err := Text(context.Background(), nil, types.FormatTXT, []byte("  body \n"), 0)
		require.NoError(t, err)
		assert.Equal(t, "body", got)
	})

	t.Run("pdf goes through converter", func(t *testing.T) {
		fc := &fakeConverter{output: "# Title\n\nBody text"}
		got, err := Text(context.Background(), fc, types.FormatPDF, []byte("%PDF-1.4"), 7)
		require.NoError(t, err)
		assert.Equal(t, "# Title", got)
		assert.Equal(t, []byte("%PDF-1.4"), fc.got)
	})

	t.Run("converter error", func(t *testing.T) {
		_, err := Text(context.Background(), &fakeConverter{err: errors.New("crashed")}, types.FormatPDF, []byte("x"), 0)
		assert.ErrorContains(t, err, "crashed")
	})

	t.Run("pdf without converter", func(t *testing.T) {
		_, err := Text(context.Background(), nil, types.FormatPDF, []byte("x"), 0)
		assert.Error(t, err)
	})

	t.Run("blank document", func(t *testing.T) {
		_, err := Text(context.Background(), nil, types.FormatTXT, []byte(" \n\t"), 0)
		assert.ErrorIs(t, err, ErrEmpty)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := Text(context.Background(), nil, types.Format("docx"), []byte("x"), 0)
		assert.Error(t, err)
	})
}

// fakeRuntime implements container.Runtime.
type fakeRuntime struct {
	hasImage bool
	output   string
	err      error
}

func (f *fakeRuntime) Name() string { return "fake" }

func (f *fakeRuntime) Available(context.Context) bool { return true }

func (f *fakeRuntime) ImageExists(_ context.Context, image string) error {
	if !f.hasImage {
		return errors.New("no such image " + image)
	}
	return nil
}

func (f *fakeRuntime) Run(_ context.Context, _ string, stdin io.Reader, stdout io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, _ = io.Copy(io.Discard, stdin)
	_, err := io.WriteString(stdout, f.output)
	return err
}

func TestMarkitdownConverter(t *testing.T) {
	ctx := context.Background()

	_, err := NewMarkitdownConverter(ctx, &fakeRuntime{})
	assert.ErrorContains(t, err, "markitdown image not available")

	mc, err := NewMarkitdownConverter(ctx, &fakeRuntime{hasImage: true, output: "# Paper"})
	require.NoError(t, err)
	got, err := mc.Convert(ctx, strings.NewReader("pdf"))
	require.NoError(t, err)
	assert.Equal(t, "# Paper", got)

	mc, err = NewMarkitdownConverter(ctx, &fakeRuntime{hasImage: true})
	require.NoError(t, err)
	_, err = mc.Convert(ctx, strings.NewReader("pdf"))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPdftotextConverter(t *testing.T) {
	var gotArgs []string
	var gotIn []byte
	p := &PdftotextConverter{bin: "pdftotext", run: func(_ context.Context, _ string, args []string, stdin io.Reader) ([]byte, error) {
		gotArgs = args
		gotIn, _ = io.ReadAll(stdin)
		return []byte("Extracted text\n"), nil
	}}

	got, err := p.Convert(context.Background(), bytes.NewReader([]byte("%PDF")))
	require.NoError(t, err)
	assert.Equal(t, "Extracted text\n", got)
	assert.Equal(t, []byte("%PDF"), gotIn)
	assert.Equal(t, []string{"-enc", "UTF-8", "-q", "-", "-"}, gotArgs)

	p.run = func(context.Context, string, []string, io.Reader) ([]byte, error) { return []byte("  \n"), nil }
	_, err = p.Convert(context.Background(), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)

	p.run = func(context.Context, string, []string, io.Reader) ([]byte, error) { return nil, errors.New("exit 1") }
	_, err = p.Convert(context.Background(), bytes.NewReader(nil))
	assert.ErrorContains(t, err, "exit 1")
}

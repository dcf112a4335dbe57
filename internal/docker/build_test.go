package docker

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeBuildOutput(t *testing.T) {
	stream := strings.Join([]string{
		`{"stream":"Step 1/4 : FROM nginx:alpine\n"}`,
		`{"status":"Pulling fs layer","id":"abc123"}`,
		`{"status":"Downloading","id":"abc123","progress":"[==>  ] 1MB/4MB"}`,
		`{"aux":{"ID":"sha256:deadbeef"}}`,
		`{"stream":"Successfully tagged preview-feature-x:abc1234\n"}`,
	}, "\n")

	var lines []string
	if err := decodeBuildOutput(strings.NewReader(stream), func(s string) { lines = append(lines, s) }); err != nil {
		t.Fatalf("decodeBuildOutput() error = %v", err)
	}

	want := []string{
		"Step 1/4 : FROM nginx:alpine",
		"abc123 Pulling fs layer",
		"abc123 Downloading [==>  ] 1MB/4MB",
		"image id: sha256:deadbeef",
		"Successfully tagged preview-feature-x:abc1234",
	}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q\nwant %q", lines, want)
	}
}

func TestDecodeBuildOutput_Errors(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{"error field", `{"stream":"Step 1/2"}` + "\n" + `{"error":"COPY failed: no such file"}`, "COPY failed"},
		{"error detail", `{"errorDetail":{"message":"manifest unknown"}}`, "manifest unknown"},
		{"garbage", `{"stream":`, "decode build output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeBuildOutput(strings.NewReader(tt.stream), nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("decodeBuildOutput() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if wrap("op", nil) != nil {
		t.Error("wrap(nil) should be nil")
	}
	err := wrap("inspect container", errors.New("connection refused"))
	if errors.Is(err, ErrNotFound) {
		t.Error("generic errors must not map to ErrNotFound")
	}
	if !strings.HasPrefix(err.Error(), "inspect container: ") {
		t.Errorf("wrap() = %v", err)
	}

	err = wrap("inspect container", notFound{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("wrap() = %v, want ErrNotFound", err)
	}
}

// notFound satisfies the errdefs not-found interface the SDK checks.
type notFound struct{}

func (notFound) Error() string { return "No such container: production" }
func (notFound) NotFound()     {}

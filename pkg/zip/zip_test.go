package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveRoundTrip(t *testing.T) {
	data, err := Archive([]Entry{
		{Name: "model.glb", Data: []byte("glTF-bytes")},
		{Name: "scorecard.json", Data: []byte(`{"score":100}`)},
		{Name: "", Data: []byte("skipped")},
	})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive has %d entries, want 2", len(zr.File))
	}

	want := map[string]string{
		"model.glb":      "glTF-bytes",
		"scorecard.json": `{"score":100}`,
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		if string(content) != want[f.Name] {
			t.Fatalf("%s content = %q, want %q", f.Name, content, want[f.Name])
		}
	}
}

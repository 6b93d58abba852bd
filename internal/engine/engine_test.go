package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name    string
		path    string
		want    map[string]string
		missing []string
		wantErr bool
	}{
		{
			name: "defaults",
			path: "",
			want: map[string]string{"force-window": "yes", "osc": "yes"},
		},
		{
			name:    "override and remove",
			path:    write("p.yaml", "options:\n  fullscreen: \"yes\"\n  osc: \"no\"\n  ytdl: \"\"\n"),
			want:    map[string]string{"fullscreen": "yes", "osc": "no", "force-window": "yes"},
			missing: []string{"ytdl"},
		},
		{
			name:    "bad yaml",
			path:    write("bad.yaml", "options: [unterminated"),
			wantErr: true,
		},
		{
			name:    "missing file",
			path:    filepath.Join(dir, "nope.yaml"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LoadPresets(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadPresets err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			for k, v := range tt.want {
				if got := p.Options[k]; got != v {
					t.Errorf("option %s = %q, want %q", k, got, v)
				}
			}
			for _, k := range tt.missing {
				if _, ok := p.Options[k]; ok {
					t.Errorf("option %s should have been removed", k)
				}
			}
		})
	}
}

func TestPresetNamesSorted(t *testing.T) {
	names := DefaultPresets().Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	if got := CodeFromMessage("loading failed"); got != CodeLoadingFailed {
		t.Fatalf("CodeFromMessage = %d", got)
	}
	if got := CodeFromMessage("no idea"); got != CodeGeneric {
		t.Fatalf("unknown messages should map to generic, got %d", got)
	}
	err := NewError("loadfile", CodeLoadingFailed)
	if err.Error() != "engine loadfile: loading failed (-13)" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if CodeMessage(12345) != "unknown error" {
		t.Fatal("expected unknown error text")
	}
}

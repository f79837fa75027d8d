package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/poltergeist/wisp/pkg/types"
)

func TestParseStepName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    types.StepName
		wantErr bool
	}{
		{name: "clean", input: "clean", want: types.StepClean},
		{name: "templates", input: "render-templates", want: types.StepTemplates},
		{name: "stylesheets", input: "render-stylesheets", want: types.StepStyles},
		{name: "publish", input: "publish", want: types.StepPublish},
		{name: "unknown", input: "jade", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := types.ParseStepName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStepName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseStepName() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuildSequence_Order(t *testing.T) {
	seq := types.BuildSequence
	if seq[0] != types.StepClean {
		t.Errorf("expected clean first, got %s", seq[0])
	}
	if seq[len(seq)-1] != types.StepPublish {
		t.Errorf("expected publish last, got %s", seq[len(seq)-1])
	}
	if len(seq) != 6 {
		t.Errorf("expected 6 steps, got %d", len(seq))
	}
}

func TestServerConfig_Address(t *testing.T) {
	s := types.ServerConfig{Host: "localhost", Port: 9000}
	if got := s.Address(); got != "localhost:9000" {
		t.Errorf("expected localhost:9000, got %s", got)
	}
}

func TestWatchConfig_SettlingDuration(t *testing.T) {
	w := types.WatchConfig{SettlingDelay: 250}
	if got := w.SettlingDuration(); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", got)
	}
}

func TestConfig_JSONFieldNames(t *testing.T) {
	data := []byte(`{
		"version": "1.0",
		"paths": {"buildRoot": "out", "build": {"css": "out/css/"}},
		"server": {"port": 3000, "injectChanges": true}
	}`)

	var cfg types.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.Paths.BuildRoot != "out" {
		t.Errorf("expected build root out, got %s", cfg.Paths.BuildRoot)
	}
	if cfg.Paths.Build.CSS != "out/css/" {
		t.Errorf("expected css path out/css/, got %s", cfg.Paths.Build.CSS)
	}
	if cfg.Server.Port != 3000 || !cfg.Server.InjectChanges {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

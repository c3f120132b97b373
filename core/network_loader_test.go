package core

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"1:30", 5400},
		{"0:00:45", 45},
		{"2.5", 9000},
		{"90m", 5400},
		{"5000s", 5000},
		{"12:30 pm", 45000},
		{"12 am", 0},
		{"6 AM", 21600},
	}
	for _, tc := range cases {
		got, err := parseClock(tc.in)
		if err != nil {
			t.Fatalf("parseClock(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseClock(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"1:2:3:4", "soon", "x:10"} {
		if _, err := parseClock(bad); err == nil {
			t.Fatalf("parseClock(%q) succeeded, want error", bad)
		}
	}
}

func TestLoadNetworkConvertsUserUnits(t *testing.T) {
	net := loadNet(t, `
options:
  units: gpm
junctions:
  - {id: J1, elevation: 10, demand: 448.831}
reservoirs:
  - {id: R1, head: 100}
pipes:
  - {id: P1, from: R1, to: J1, length: 1000, diameter: 6, roughness: 120}
`)
	j, err := net.NodeIndex("J1")
	if err != nil {
		t.Fatalf("NodeIndex error: %v", err)
	}
	if got := net.Nodes[j].Demands[0].Base; math.Abs(got-1) > 1e-9 {
		t.Fatalf("base demand = %v cfs, want 1", got)
	}
	p, err := net.LinkIndex("P1")
	if err != nil {
		t.Fatalf("LinkIndex error: %v", err)
	}
	if got := net.Links[p].Diameter; math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("diameter = %v ft, want 0.5", got)
	}
	if got := net.Links[p].Roughness; got != 120 {
		t.Fatalf("roughness = %v, want 120", got)
	}
}

func TestLoadNetworkSI(t *testing.T) {
	net := loadNet(t, `
options:
  units: lps
junctions:
  - {id: J1, elevation: 3.048, demand: 28.3168}
reservoirs:
  - {id: R1, head: 30.48}
pipes:
  - {id: P1, from: R1, to: J1, length: 304.8, diameter: 304.8, roughness: 100}
`)
	j, _ := net.NodeIndex("J1")
	if got := net.Nodes[j].Elevation; math.Abs(got-10) > 1e-6 {
		t.Fatalf("elevation = %v ft, want 10", got)
	}
	if got := net.Nodes[j].Demands[0].Base; math.Abs(got-1) > 1e-4 {
		t.Fatalf("demand = %v cfs, want 1", got)
	}
	if got := net.Links[0].Diameter; math.Abs(got-1) > 1e-6 {
		t.Fatalf("diameter = %v ft, want 1", got)
	}
}

func TestLoadNetworkReadsTimesAndControls(t *testing.T) {
	net := loadNet(t, timerControlYAML)
	if net.Times.Duration != 4*3600 || net.Times.HydStep != 3600 {
		t.Fatalf("times = %+v", net.Times)
	}
	if len(net.Controls) != 1 {
		t.Fatalf("controls = %d, want 1", len(net.Controls))
	}
	c := net.Controls[0]
	if c.Type != model.ControlTimer || c.Time != 5000 || c.Status != model.StatusClosed {
		t.Fatalf("control = %+v", c)
	}
}

func TestLoadNetworkRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "unknown field",
			doc:  singlePipeYAML + "extra: 1\n",
			want: ErrInvalidNetworkInput,
		},
		{
			name: "duplicate id",
			doc: `
junctions:
  - {id: J1}
  - {id: J1}
`,
			want: ErrDuplicateID,
		},
		{
			name: "unknown end node",
			doc: `
junctions:
  - {id: J1}
reservoirs:
  - {id: R1, head: 10}
pipes:
  - {id: P1, from: R1, to: J9, length: 10, diameter: 6, roughness: 100}
`,
			want: ErrUndefinedNode,
		},
		{
			name: "zero length pipe",
			doc: `
junctions:
  - {id: J1}
reservoirs:
  - {id: R1, head: 10}
pipes:
  - {id: P1, from: R1, to: J1, length: 0, diameter: 6, roughness: 100}
`,
			want: ErrInvalidValue,
		},
		{
			name: "no fixed grade node",
			doc: `
junctions:
  - {id: J1}
  - {id: J2}
pipes:
  - {id: P1, from: J1, to: J2, length: 10, diameter: 6, roughness: 100}
`,
			want: ErrNoFixedGrade,
		},
		{
			name: "tank levels out of order",
			doc: `
junctions:
  - {id: J1}
tanks:
  - {id: T1, elevation: 0, init_level: 30, min_level: 0, max_level: 20, diameter: 10}
pipes:
  - {id: P1, from: T1, to: J1, length: 10, diameter: 6, roughness: 100}
`,
			want: ErrTankLevels,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadNetwork(strings.NewReader(tc.doc))
			if !errors.Is(err, tc.want) {
				t.Fatalf("LoadNetwork error = %v, want code %d", err, CodeOf(tc.want))
			}
		})
	}
}

func TestLoadNetworkFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.yaml")
	if err := os.WriteFile(path, []byte(loopedYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	net, err := LoadNetworkFile(path)
	if err != nil {
		t.Fatalf("LoadNetworkFile error: %v", err)
	}
	if len(net.Nodes) != 6 || len(net.Links) != 6 {
		t.Fatalf("loaded %d nodes and %d links, want 6 and 6", len(net.Nodes), len(net.Links))
	}
	if _, err := LoadNetworkFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrInvalidNetworkInput) {
		t.Fatalf("missing file error = %v, want code 200", err)
	}
}

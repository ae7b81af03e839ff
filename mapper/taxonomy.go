package mapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// CanonicalTacticOrder is the enterprise kill-chain sequence used to order
// tactics. Tactics whose short name is missing here are left out of ordered views.
var CanonicalTacticOrder = []string{
	"reconnaissance",
	"resource-development",
	"initial-access",
	"execution",
	"persistence",
	"privilege-escalation",
	"defense-evasion",
	"credential-access",
	"discovery",
	"lateral-movement",
	"collection",
	"command-and-control",
	"exfiltration",
	"impact",
}

var (
	// ErrNoTaxonomy is returned when an operation needs a loaded taxonomy.
	ErrNoTaxonomy = errors.New("taxonomy is not loaded")
	// ErrTaxonomyShape is returned when the document is not a STIX bundle.
	ErrTaxonomyShape = errors.New("unexpected taxonomy document shape")
)

// Tactic is an ATT&CK tactic (matrix column).
type Tactic struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortname"`
}

// Technique is a top-level ATT&CK technique. Tactics holds kill-chain phase
// names, which are tactic short names.
type Technique struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Tactics     []string `json:"tactics"`
}

// Label renders the "ID - Name" form used in match results.
func (t Technique) Label() string {
	return t.ID + " - " + t.Name
}

// TacticColumn is one matrix row: a tactic with its member techniques.
type TacticColumn struct {
	Tactic     Tactic
	Techniques []Technique
}

// Taxonomy is an immutable snapshot of tactics and techniques.
type Taxonomy struct {
	Tactics    []Tactic
	Techniques []Technique
	byID       map[string]int
}

// NewTaxonomy orders tactics canonically and indexes techniques by ID.
func NewTaxonomy(tactics []Tactic, techniques []Technique) *Taxonomy {
	t := &Taxonomy{
		Tactics:    orderTactics(tactics),
		Techniques: make([]Technique, 0, len(techniques)),
		byID:       make(map[string]int, len(techniques)),
	}
	for _, tech := range techniques {
		if strings.Contains(tech.ID, ".") {
			continue
		}
		if _, dup := t.byID[tech.ID]; dup {
			continue
		}
		t.byID[tech.ID] = len(t.Techniques)
		t.Techniques = append(t.Techniques, tech)
	}
	return t
}

// Len returns the number of techniques.
func (t *Taxonomy) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Techniques)
}

// Technique looks up a technique by ID.
func (t *Taxonomy) Technique(id string) (Technique, bool) {
	if t == nil {
		return Technique{}, false
	}
	i, ok := t.byID[id]
	if !ok {
		return Technique{}, false
	}
	return t.Techniques[i], true
}

// Tactic finds a tactic by short name or display name, ignoring case.
func (t *Taxonomy) Tactic(name string) (Tactic, bool) {
	if t == nil {
		return Tactic{}, false
	}
	for _, tac := range t.Tactics {
		if strings.EqualFold(tac.ShortName, name) || strings.EqualFold(tac.Name, name) {
			return tac, true
		}
	}
	return Tactic{}, false
}

// Ordered returns tactics in kill-chain order, each with the techniques that
// list it as a phase. Technique order follows the source bundle.
func (t *Taxonomy) Ordered() []TacticColumn {
	if t == nil {
		return nil
	}
	cols := make([]TacticColumn, len(t.Tactics))
	pos := make(map[string]int, len(t.Tactics))
	for i, tac := range t.Tactics {
		cols[i] = TacticColumn{Tactic: tac}
		pos[tac.ShortName] = i
	}
	for _, tech := range t.Techniques {
		for _, phase := range tech.Tactics {
			if i, ok := pos[phase]; ok {
				cols[i].Techniques = append(cols[i].Techniques, tech)
			}
		}
	}
	return cols
}

func orderTactics(tactics []Tactic) []Tactic {
	byShort := make(map[string]Tactic, len(tactics))
	for _, tac := range tactics {
		if _, dup := byShort[tac.ShortName]; dup {
			continue
		}
		byShort[tac.ShortName] = tac
	}
	out := make([]Tactic, 0, len(CanonicalTacticOrder))
	for _, short := range CanonicalTacticOrder {
		if tac, ok := byShort[short]; ok {
			out = append(out, tac)
		}
	}
	return out
}

type stixBundle struct {
	Objects []stixObject `json:"objects"`
}

type stixObject struct {
	Type               string              `json:"type"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	ShortName          string              `json:"x_mitre_shortname"`
	ExternalReferences []externalReference `json:"external_references"`
	KillChainPhases    []killChainPhase    `json:"kill_chain_phases"`
	Revoked            bool                `json:"revoked"`
	Deprecated         bool                `json:"x_mitre_deprecated"`
}

type externalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

type killChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

func (o stixObject) externalID() string {
	if len(o.ExternalReferences) == 0 || o.ExternalReferences[0].ExternalID == "" {
		return SentinelNA
	}
	return o.ExternalReferences[0].ExternalID
}

func (o stixObject) url() string {
	if len(o.ExternalReferences) == 0 {
		return ""
	}
	return o.ExternalReferences[0].URL
}

func orNA(s string) string {
	if s == "" {
		return SentinelNA
	}
	return s
}

// ParseTaxonomy decodes a STIX bundle. Revoked and deprecated objects,
// sub-techniques and techniques without an external ID are skipped.
func ParseTaxonomy(r io.Reader) (*Taxonomy, error) {
	var raw struct {
		Objects *[]stixObject `json:"objects"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode taxonomy: %w", err)
	}
	if raw.Objects == nil {
		return nil, fmt.Errorf("decode taxonomy: %w: no objects array", ErrTaxonomyShape)
	}
	bundle := stixBundle{Objects: *raw.Objects}

	var tactics []Tactic
	var techniques []Technique
	for _, obj := range bundle.Objects {
		if obj.Revoked || obj.Deprecated {
			continue
		}
		switch obj.Type {
		case "x-mitre-tactic":
			tactics = append(tactics, Tactic{
				ID:        obj.externalID(),
				Name:      orNA(obj.Name),
				ShortName: obj.ShortName,
			})
		case "attack-pattern":
			id := obj.externalID()
			if id == SentinelNA || strings.Contains(id, ".") {
				continue
			}
			phases := make([]string, 0, len(obj.KillChainPhases))
			for _, p := range obj.KillChainPhases {
				phases = append(phases, p.PhaseName)
			}
			techniques = append(techniques, Technique{
				ID:          id,
				Name:        orNA(obj.Name),
				Description: obj.Description,
				URL:         obj.url(),
				Tactics:     phases,
			})
		}
	}
	return NewTaxonomy(tactics, techniques), nil
}

// LoadTaxonomyFile parses a STIX snapshot from disk.
func LoadTaxonomyFile(path string) (*Taxonomy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open taxonomy: %w", err)
	}
	defer f.Close()
	return ParseTaxonomy(f)
}

// FetchTaxonomy downloads and parses a STIX bundle.
func FetchTaxonomy(ctx context.Context, client *http.Client, url string) (*Taxonomy, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build taxonomy request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch taxonomy: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch taxonomy: unexpected status %d for %s", resp.StatusCode, url)
	}
	return ParseTaxonomy(resp.Body)
}

// LoadTaxonomy reads the local snapshot when cfg.Path is set and fetches
// cfg.URL otherwise.
func LoadTaxonomy(ctx context.Context, cfg TaxonomyConfig) (*Taxonomy, error) {
	if cfg.Path != "" {
		return LoadTaxonomyFile(cfg.Path)
	}
	url := cfg.URL
	if url == "" {
		url = DefaultTaxonomyURL
	}
	client := &http.Client{Timeout: cfg.Timeout.Std()}
	return FetchTaxonomy(ctx, client, url)
}

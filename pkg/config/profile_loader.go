package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/treasury/pkg/finance"
)

//go:embed profile.schema.json
var profileSchemaJSON string

const profileSchemaURL = "https://treasury.schemas.local/config/profile.schema.json"

// Beneficiary is one payable kind: who receives it, how often, and the most
// that may be configured per interval.
type Beneficiary struct {
	Kind            string `yaml:"kind" json:"kind"`
	Account         string `yaml:"account" json:"account"`
	IntervalSeconds int64  `yaml:"interval_seconds" json:"interval_seconds"`
	Ceiling         int64  `yaml:"ceiling" json:"ceiling"` // whole tokens
	ResourceFunding bool   `yaml:"resource_funding,omitempty" json:"resource_funding,omitempty"`
}

// Interval returns the payout interval.
func (b Beneficiary) Interval() time.Duration {
	return time.Duration(b.IntervalSeconds) * time.Second
}

// CeilingIn returns the ceiling in the treasury's unit.
func (b Beneficiary) CeilingIn(symbol string, precision int) (finance.Ceiling, error) {
	limit, err := finance.WholeTokens(b.Ceiling, symbol, precision)
	if err != nil {
		return finance.Ceiling{}, fmt.Errorf("ceiling for %s: %w", b.Kind, err)
	}
	return finance.Ceiling{Kind: b.Kind, Limit: limit}, nil
}

// Profile is the set of beneficiary kinds a treasury pays.
type Profile struct {
	Beneficiaries []Beneficiary `yaml:"beneficiaries" json:"beneficiaries"`
}

// DefaultProfile returns the standard three-way split: two daily grants and
// a half-hourly resource-funding stream.
func DefaultProfile() *Profile {
	return &Profile{Beneficiaries: []Beneficiary{
		{Kind: "tf", Account: "tf", IntervalSeconds: 86400, Ceiling: 32876},
		{Kind: "econdev", Account: "econdevfunds", IntervalSeconds: 86400, Ceiling: 16438},
		{Kind: "rex", Account: "eosio.rex", IntervalSeconds: 1800, Ceiling: 685, ResourceFunding: true},
	}}
}

// Lookup finds a beneficiary by kind.
func (p *Profile) Lookup(kind string) (Beneficiary, bool) {
	for _, b := range p.Beneficiaries {
		if b.Kind == kind {
			return b, true
		}
	}
	return Beneficiary{}, false
}

// ResourceBeneficiary returns the kind whose payouts fund resource purchases.
func (p *Profile) ResourceBeneficiary() (Beneficiary, bool) {
	for _, b := range p.Beneficiaries {
		if b.ResourceFunding {
			return b, true
		}
	}
	return Beneficiary{}, false
}

// Validate checks constraints the schema cannot express.
func (p *Profile) Validate() error {
	kinds := make(map[string]bool, len(p.Beneficiaries))
	accounts := make(map[string]bool, len(p.Beneficiaries))
	resource := 0
	for _, b := range p.Beneficiaries {
		if kinds[b.Kind] {
			return fmt.Errorf("duplicate beneficiary kind %q", b.Kind)
		}
		if accounts[b.Account] {
			return fmt.Errorf("account %q is used by more than one kind", b.Account)
		}
		kinds[b.Kind] = true
		accounts[b.Account] = true
		if b.ResourceFunding {
			resource++
		}
	}
	if resource > 1 {
		return fmt.Errorf("at most one kind may have resource_funding, found %d", resource)
	}
	return nil
}

var (
	schemaOnce       sync.Once
	profileSchema    *jsonschema.Schema
	profileSchemaErr error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(profileSchemaURL, bytes.NewReader([]byte(profileSchemaJSON))); err != nil {
			profileSchemaErr = fmt.Errorf("profile schema load failed: %w", err)
			return
		}
		profileSchema, profileSchemaErr = c.Compile(profileSchemaURL)
	})
	return profileSchema, profileSchemaErr
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	// Validate in JSON form so numbers carry JSON semantics.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	var instance any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("profile schema validation failed: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// LoadProfile reads the profile at path, or returns DefaultProfile when path
// is empty.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	return p, nil
}

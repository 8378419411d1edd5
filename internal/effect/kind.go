package effect

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownEffect = errors.New("unknown effect")

// Kind selects one of the fixed tone transforms.
type Kind uint8

const (
	Enhance Kind = iota
	Futuristic
	Cinematic
	IdentityPlus
	Dreamscape
	HyperReal

	numKinds
)

// Info describes a kind for catalog listings.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var catalog = [numKinds]Info{
	Enhance:      {ID: "enhance", Name: "Ultra Enhance", Description: "Amplify details and clarity"},
	Futuristic:   {ID: "futuristic", Name: "Futuristic", Description: "Sci-fi transformation"},
	Cinematic:    {ID: "cinematic", Name: "Cinematic", Description: "Hollywood-grade color"},
	IdentityPlus: {ID: "identity", Name: "Identity Plus", Description: "Enhance facial features"},
	Dreamscape:   {ID: "dreamscape", Name: "Dreamscape", Description: "Surreal artistic blend"},
	HyperReal:    {ID: "hyperreal", Name: "Hyper-Real", Description: "Maximum realism"},
}

var aliases = map[string]Kind{
	"identityplus":  IdentityPlus,
	"identity-plus": IdentityPlus,
	"identity_plus": IdentityPlus,
	"hyper-real":    HyperReal,
	"hyper_real":    HyperReal,
}

func (k Kind) Valid() bool {
	return k < numKinds
}

// String returns the wire name used by the API and in export file names.
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("effect(%d)", uint8(k))
	}
	return catalog[k].ID
}

func (k Kind) Info() Info {
	if !k.Valid() {
		return Info{ID: k.String()}
	}
	return catalog[k]
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEffect, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind resolves a wire name, case-insensitively.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, info := range catalog {
		if info.ID == name {
			return Kind(k), nil
		}
	}
	if k, ok := aliases[name]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEffect, name)
}

// Kinds lists every kind in catalog order.
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

func Catalog() []Info {
	out := make([]Info, 0, numKinds)
	for _, info := range catalog {
		out = append(out, info)
	}
	return out
}

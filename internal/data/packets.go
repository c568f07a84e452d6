package data

import (
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/manaplus/manaplus-net/internal/net/packet"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed recvpackets/*.yaml
var recvFS embed.FS

// PacketEntry is one row of a recvpackets table.
type PacketEntry struct {
	Opcode     uint16 `yaml:"opcode"`
	Name       string `yaml:"name"`
	Length     int32  `yaml:"length"`
	MinVersion int    `yaml:"min_version"`
}

type packetFile struct {
	Packets []PacketEntry `yaml:"packets"`
}

// PacketTable is the baseline length table of one variant.
type PacketTable struct {
	Variant packet.Variant
	Entries []PacketEntry
}

// Count returns the number of rows.
func (t *PacketTable) Count() int { return len(t.Entries) }

func loadEmbedded(name string) ([]PacketEntry, error) {
	raw, err := recvFS.ReadFile("recvpackets/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("read packet table %s: %w", name, err)
	}
	var f packetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse packet table %s: %w", name, err)
	}
	return f.Packets, nil
}

// LoadPacketTable returns the embedded table for variant, layered on top of
// the shared ea table. Rows of the variant table win.
func LoadPacketTable(variant packet.Variant) (*PacketTable, error) {
	entries, err := loadEmbedded(packet.VariantEa.String())
	if err != nil {
		return nil, err
	}
	if variant != packet.VariantEa {
		more, err := loadEmbedded(variant.String())
		if err != nil {
			return nil, err
		}
		entries = append(entries, more...)
	}
	return &PacketTable{Variant: variant, Entries: entries}, nil
}

// FakeEntry declares a length for an opcode the table lacks.
type FakeEntry struct {
	Opcode uint16 `yaml:"opcode"`
	Name   string `yaml:"name"`
	Length int32  `yaml:"length"`
}

// Overrides is the user-supplied fake/remove file.
type Overrides struct {
	Fake   []FakeEntry `yaml:"fake"`
	Remove []uint16    `yaml:"remove"`
}

// Count returns the number of override rows.
func (o *Overrides) Count() int {
	if o == nil {
		return 0
	}
	return len(o.Fake) + len(o.Remove)
}

// LoadOverrides loads a fake/remove YAML file.
func LoadOverrides(path string) (*Overrides, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read packet overrides: %w", err)
	}
	var o Overrides
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("parse packet overrides: %w", err)
	}
	return &o, nil
}

// Rejected is an override that would have shadowed a real table entry.
type Rejected struct {
	Opcode uint16
	Action string // "fake" or "remove"
	Err    error
}

// BuildRegistry builds the registry for variant from the embedded table, runs
// the binders (which attach handlers), then applies overrides. Overrides that
// would shadow a real entry or a bound handler are not applied and are
// returned instead; any other error aborts.
func BuildRegistry(variant packet.Variant, overrides *Overrides, log *zap.Logger, binders ...func(*packet.Registry) error) (*packet.Registry, []Rejected, error) {
	if log == nil {
		log = zap.NewNop()
	}
	table, err := LoadPacketTable(variant)
	if err != nil {
		return nil, nil, err
	}
	reg := packet.NewRegistry(variant, log)
	for _, e := range table.Entries {
		if err := reg.Register(e.Opcode, e.Name, e.Length, nil, e.MinVersion); err != nil {
			return nil, nil, fmt.Errorf("%s table: %w", variant, err)
		}
	}
	for _, bind := range binders {
		if err := bind(reg); err != nil {
			return nil, nil, err
		}
	}
	if overrides == nil {
		return reg, nil, nil
	}

	var rejected []Rejected
	for _, f := range overrides.Fake {
		err := reg.Fake(f.Opcode, f.Name, f.Length)
		switch {
		case err == nil:
		case errors.Is(err, packet.ErrOverrideShadows):
			rejected = append(rejected, Rejected{Opcode: f.Opcode, Action: "fake", Err: err})
		default:
			return nil, nil, fmt.Errorf("fake 0x%04x: %w", f.Opcode, err)
		}
	}
	for _, op := range overrides.Remove {
		if err := reg.Remove(op); err != nil {
			rejected = append(rejected, Rejected{Opcode: op, Action: "remove", Err: err})
		}
	}
	for _, r := range rejected {
		log.Warn("封包覆寫被拒絕",
			zap.String("opcode", fmt.Sprintf("0x%04x", r.Opcode)),
			zap.String("action", r.Action),
			zap.Error(r.Err),
		)
	}
	return reg, rejected, nil
}

package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"reflect"

	"github.com/invopop/jsonschema"

	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/sim"
)

// Player seats one participant.
type Player struct {
	ID   string `json:"id" jsonschema:"required,minLength=1"`
	Team string `json:"team" jsonschema:"required,enum=left,enum=right"`
}

// Script is the on-disk form of a headless match.
type Script struct {
	Name         string        `json:"name,omitempty"`
	Seed         string        `json:"seed,omitempty" jsonschema:"description=Root seed; every battle stream derives from it"`
	TickRate     int           `json:"tickRate,omitempty" jsonschema:"minimum=1"`
	MaxTicks     uint64        `json:"maxTicks,omitempty" jsonschema:"description=Upper bound on simulated ticks; zero means unbounded"`
	Players      []Player      `json:"players" jsonschema:"required,minItems=1"`
	Instructions []Instruction `json:"instructions" jsonschema:"required"`
}

// Parse decodes a script. Unknown fields are rejected.
func Parse(data []byte) (Script, error) {
	var script Script
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&script); err != nil {
		return Script{}, fmt.Errorf("runner: decode script: %w", err)
	}
	return script, nil
}

// Load reads and decodes a script file.
func Load(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("runner: read %s: %w", path, err)
	}
	script, err := Parse(data)
	if err != nil {
		return Script{}, fmt.Errorf("%s: %w", path, err)
	}
	return script, nil
}

// FromScript builds an authoritative game from base, seats the script's
// players and attaches a runner. The script's seed and tick rate override
// base when set.
func FromScript(script Script, base sim.Config, deps sim.Deps, opts Options) (*Runner, error) {
	cfg := base
	cfg.Authoritative = true
	if script.Seed != "" {
		cfg.Seed = script.Seed
	}
	if script.TickRate > 0 {
		cfg.TickRate = script.TickRate
	}
	game, err := sim.NewGame(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	for _, p := range script.Players {
		team, ok := ecs.ParseTeam(p.Team)
		if !ok {
			return nil, fmt.Errorf("runner: player %q: unknown team %q", p.ID, p.Team)
		}
		if err := game.AddPlayer(p.ID, team); err != nil {
			return nil, fmt.Errorf("runner: %w", err)
		}
	}
	return New(game, script.Instructions, opts)
}

// Schema reflects the JSON schema of a script file.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.ReflectFromType(reflect.TypeOf(Script{}))
	schema.Title = "Squad Clash Headless Script"
	schema.Description = "Seats players and lists the instructions a headless match executes."
	return schema
}

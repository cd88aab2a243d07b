package shardroute

import (
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// QueryDefinition the statements of one logical entity, e.g.
//
//	namespace: Order
//	operations:
//	  insert: INSERT INTO trade_order (id, user_id, amount) VALUES (?, ?, ?)
//	  findByUser: SELECT id, user_id, amount FROM trade_order WHERE user_id = :user_id
type QueryDefinition struct {
	Namespace  string            `yaml:"namespace"`
	Operations map[string]string `yaml:"operations"`
}

// LoadQueryDefinition reads location from fsys, or from the OS when fsys
// is nil.
func LoadQueryDefinition(fsys fs.FS, location string) (*QueryDefinition, error) {
	var (
		data []byte
		err  error
	)
	if fsys != nil {
		data, err = fs.ReadFile(fsys, location)
	} else {
		data, err = os.ReadFile(location)
	}
	if err != nil {
		return nil, fmt.Errorf("read query definition %s: %w", location, err)
	}
	def := &QueryDefinition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("query definition %s: %w", location, err)
	}
	if def.Namespace == "" {
		return nil, fmt.Errorf("query definition %s: missing namespace", location)
	}
	if len(def.Operations) == 0 {
		return nil, fmt.Errorf("query definition %s: no operations", location)
	}
	return def, nil
}

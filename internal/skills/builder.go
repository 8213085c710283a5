package skills

import (
	"fmt"
	"log/slog"

	"github.com/processone/fluux-agent/internal/config"
)

// Build constructs the registry from the enabled list. Unknown names
// fail startup: a typo in the config must not silently disable a
// capability the operator believes is on.
func Build(cfg config.SkillsConfig, log *slog.Logger) (*Registry, error) {
	reg := NewRegistry(log)
	for _, name := range cfg.Enabled {
		var skill Skill
		switch name {
		case "web_search":
			ws, err := NewWebSearchSkill(cfg.WebSearch)
			if err != nil {
				return nil, err
			}
			skill = ws
		case "url_fetch":
			skill = NewURLFetchSkill(cfg.URLFetch)
		case "memory_store":
			skill = MemoryStoreSkill{}
		case "memory_recall":
			skill = MemoryRecallSkill{}
		default:
			return nil, fmt.Errorf("skills: unknown skill %q in skills.enabled", name)
		}
		if err := reg.Register(skill, cfg.AllowedCapabilities); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

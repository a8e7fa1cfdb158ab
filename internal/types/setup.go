package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SetupCommand is one preflight setup command. The document form is either a
// bare string or {"name": ..., "command": ...}; a bare string names itself.
type SetupCommand struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// UnmarshalJSON accepts both the string and object forms.
func (c *SetupCommand) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Name = s
		c.Command = s
		return nil
	}
	type alias SetupCommand
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("setup command must be a string or {name, command}: %w", err)
	}
	if a.Command == "" {
		return fmt.Errorf("setup command object requires a command field")
	}
	if a.Name == "" {
		a.Name = a.Command
	}
	*c = SetupCommand(a)
	return nil
}

// MarshalJSON emits the compact string form when name and command coincide.
func (c SetupCommand) MarshalJSON() ([]byte, error) {
	if c.Name == c.Command {
		return json.Marshal(c.Command)
	}
	type alias SetupCommand
	return json.Marshal(alias(c))
}

// LanguageSetup is the single-language setup form: files that must be present
// and commands to run, in order, before grading.
type LanguageSetup struct {
	RequiredFiles []string       `json:"required_files,omitempty"`
	SetupCommands []SetupCommand `json:"setup_commands,omitempty"`
}

// SetupConfig is the setup document. It is either a single LanguageSetup or a
// language -> LanguageSetup mapping, with optional top-level sandbox hints.
type SetupConfig struct {
	Single     *LanguageSetup
	ByLanguage map[string]LanguageSetup

	// Sandbox hints.
	RuntimeImage  string
	ContainerPort int
}

// reserved top-level keys that are not language tags.
var setupHintKeys = map[string]bool{
	"required_files": true,
	"setup_commands": true,
	"runtime_image":  true,
	"container_port": true,
}

// UnmarshalJSON distinguishes the single-language and multi-language forms by
// key shape: if any non-hint key is present, the document is a language map.
func (s *SetupConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("setup config must be an object: %w", err)
	}

	if img, ok := raw["runtime_image"]; ok {
		if err := json.Unmarshal(img, &s.RuntimeImage); err != nil {
			return fmt.Errorf("runtime_image: %w", err)
		}
		delete(raw, "runtime_image")
	}
	if port, ok := raw["container_port"]; ok {
		if err := json.Unmarshal(port, &s.ContainerPort); err != nil {
			return fmt.Errorf("container_port: %w", err)
		}
		delete(raw, "container_port")
	}

	multi := false
	for k := range raw {
		if !setupHintKeys[k] {
			multi = true
			break
		}
	}

	if !multi {
		var ls LanguageSetup
		if rf, ok := raw["required_files"]; ok {
			if err := json.Unmarshal(rf, &ls.RequiredFiles); err != nil {
				return fmt.Errorf("required_files: %w", err)
			}
		}
		if sc, ok := raw["setup_commands"]; ok {
			if err := json.Unmarshal(sc, &ls.SetupCommands); err != nil {
				return fmt.Errorf("setup_commands: %w", err)
			}
		}
		s.Single = &ls
		return nil
	}

	s.ByLanguage = make(map[string]LanguageSetup, len(raw))
	for lang, msg := range raw {
		var ls LanguageSetup
		if err := json.Unmarshal(msg, &ls); err != nil {
			return fmt.Errorf("setup for language %q: %w", lang, err)
		}
		s.ByLanguage[lang] = ls
	}
	return nil
}

// MarshalJSON emits the same shape that was parsed.
func (s SetupConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	if s.Single != nil {
		if len(s.Single.RequiredFiles) > 0 {
			out["required_files"] = s.Single.RequiredFiles
		}
		if len(s.Single.SetupCommands) > 0 {
			out["setup_commands"] = s.Single.SetupCommands
		}
	} else {
		for lang, ls := range s.ByLanguage {
			out[lang] = ls
		}
	}
	if s.RuntimeImage != "" {
		out["runtime_image"] = s.RuntimeImage
	}
	if s.ContainerPort != 0 {
		out["container_port"] = s.ContainerPort
	}
	return json.Marshal(out)
}

// Effective returns the setup for the submission's language. For the
// single-language form the language tag is ignored.
func (s *SetupConfig) Effective(lang string) (LanguageSetup, error) {
	if s == nil {
		return LanguageSetup{}, nil
	}
	if s.Single != nil {
		return *s.Single, nil
	}
	ls, ok := s.ByLanguage[lang]
	if !ok {
		return LanguageSetup{}, fmt.Errorf("no setup config for language %q (have %v)", lang, s.languages())
	}
	return ls, nil
}

// NeedsSandbox reports whether any setup work requires an execution
// environment.
func (s *SetupConfig) NeedsSandbox() bool {
	if s == nil {
		return false
	}
	if s.Single != nil {
		return len(s.Single.SetupCommands) > 0
	}
	for _, ls := range s.ByLanguage {
		if len(ls.SetupCommands) > 0 {
			return true
		}
	}
	return false
}

func (s *SetupConfig) languages() []string {
	langs := make([]string, 0, len(s.ByLanguage))
	for l := range s.ByLanguage {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

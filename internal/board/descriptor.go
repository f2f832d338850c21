package board

import (
	"fmt"
	"path"
	"strings"
)

type (
	// FunctionDescriptor identifies an instrumented scope or a sampled symbol.
	// Descriptors are immutable once decoded, live overrides go to Overrides.
	FunctionDescriptor struct {
		ID              uint32 `json:"id"`
		FullName        string `json:"full_name"`
		Name            string `json:"name"`
		File            string `json:"file,omitempty"`
		Line            int32  `json:"line,omitempty"`
		Color           uint32 `json:"color"`
		SamplingEnabled bool   `json:"sampling_enabled"`

		// Sampled symbols only.
		Address uint64 `json:"address,omitempty"`
		Module  string `json:"module,omitempty"`
	}

	ThreadDescriptor struct {
		ThreadID uint64 `json:"thread_id"`
		Name     string `json:"name"`
		MaxDepth int32  `json:"max_depth"`
		Priority int32  `json:"priority"`
		Mask     uint32 `json:"mask"`
		IsFiber  bool   `json:"is_fiber"`
	}
)

// NewFunctionDescriptor builds a descriptor and derives its short name.
func NewFunctionDescriptor(id uint32, fullName, file string, line int32, color uint32) *FunctionDescriptor {
	return &FunctionDescriptor{
		ID:       id,
		FullName: fullName,
		Name:     ShortName(fullName),
		File:     file,
		Line:     line,
		Color:    color,
	}
}

// UnresolvedDescriptor names an address no symbol was sent for.
func UnresolvedDescriptor(id uint32, address uint64) *FunctionDescriptor {
	name := fmt.Sprintf("0x%x", address)
	return &FunctionDescriptor{
		ID:       id,
		FullName: name,
		Name:     name,
		Address:  address,
	}
}

// FileBaseName returns the basename of the source file, if it's a path.
func (d *FunctionDescriptor) FileBaseName() string {
	if d.File == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(d.File, "\\", "/"))
}

func (d *FunctionDescriptor) String() string {
	if d.File == "" {
		return d.Name
	}
	return fmt.Sprintf("%s (%s:%d)", d.Name, d.FileBaseName(), d.Line)
}

// ShortName strips the argument list and the return type from a full
// function signature, e.g. "void Engine::Update(float)" becomes
// "Engine::Update". Names without a signature are returned as is.
func ShortName(fullName string) string {
	name := strings.TrimSpace(fullName)
	i := argumentListStart(name)
	if i <= 0 {
		return name
	}
	name = strings.TrimSpace(name[:i])
	// anything before the last space outside of template brackets is a
	// return type or a qualifier
	if j := lastTopLevelSpace(name); j >= 0 {
		name = name[j+1:]
	}
	name = strings.TrimLeft(name, "*&")
	if name == "" {
		return strings.TrimSpace(fullName)
	}
	return name
}

func lastTopLevelSpace(name string) int {
	depth := 0
	for i := len(name) - 1; i >= 0; i-- {
		switch name[i] {
		case '>':
			depth++
		case '<':
			if depth > 0 {
				depth--
			}
		case ' ':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// argumentListStart returns the index of the '(' opening the argument list,
// skipping operator() and anything inside template brackets.
func argumentListStart(name string) int {
	depth := 0
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case '(':
			if depth > 0 {
				continue
			}
			if strings.HasSuffix(name[:i], "operator") && strings.HasPrefix(name[i:], "()") {
				i++
				continue
			}
			return i
		}
	}
	return -1
}

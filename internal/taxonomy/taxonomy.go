// Package taxonomy defines the fixed category/subcategory tree every chunk is filed under.
package taxonomy

import (
	"fmt"
	"strings"
)

// Leaf is a single category/subcategory bucket.
type Leaf struct {
	Category    string
	Subcategory string
	Description string
}

// Key returns the "CATEGORY/subcategory" form used by the index and by queries.
func (l Leaf) Key() string {
	return Key(l.Category, l.Subcategory)
}

// Key joins a category and subcategory into a bucket key.
func Key(category, subcategory string) string {
	return category + "/" + subcategory
}

type category struct {
	name   string
	leaves [4]Leaf
}

func leaf(cat, sub, desc string) Leaf {
	return Leaf{Category: cat, Subcategory: sub, Description: desc}
}

// The order here is the order used for directory creation, listing and index rebuilds.
var tree = [...]category{
	{"ARCHITECTURE", [4]Leaf{
		leaf("ARCHITECTURE", "design_patterns", "Recurring structural patterns used across the project."),
		leaf("ARCHITECTURE", "system_design", "High-level component boundaries and responsibilities."),
		leaf("ARCHITECTURE", "data_flow", "How data moves between components and stores."),
		leaf("ARCHITECTURE", "integrations", "Contracts with external services and libraries."),
	}},
	{"CODE_PATTERNS", [4]Leaf{
		leaf("CODE_PATTERNS", "conventions", "Naming, layout and formatting conventions."),
		leaf("CODE_PATTERNS", "idioms", "Language idioms the codebase relies on."),
		leaf("CODE_PATTERNS", "anti_patterns", "Patterns that caused trouble and should be avoided."),
		leaf("CODE_PATTERNS", "refactoring", "Refactorings applied and the shapes they produced."),
	}},
	{"SOLUTIONS", [4]Leaf{
		leaf("SOLUTIONS", "bug_fixes", "Root causes and fixes for concrete bugs."),
		leaf("SOLUTIONS", "workarounds", "Temporary measures around known limitations."),
		leaf("SOLUTIONS", "optimizations", "Performance and resource improvements."),
		leaf("SOLUTIONS", "debugging", "Techniques that helped locate problems."),
	}},
	{"ERRORS", [4]Leaf{
		leaf("ERRORS", "common_errors", "Errors that show up repeatedly and what they mean."),
		leaf("ERRORS", "edge_cases", "Inputs and states that need special handling."),
		leaf("ERRORS", "error_handling", "How failures are reported and propagated."),
		leaf("ERRORS", "pitfalls", "Easy mistakes with non-obvious consequences."),
	}},
	{"WORKFLOWS", [4]Leaf{
		leaf("WORKFLOWS", "build_deploy", "Build, release and deployment steps."),
		leaf("WORKFLOWS", "testing", "How tests are written, run and debugged."),
		leaf("WORKFLOWS", "tooling", "Developer tools and their configuration."),
		leaf("WORKFLOWS", "version_control", "Branching, commit and review practices."),
	}},
	{"DOMAIN", [4]Leaf{
		leaf("DOMAIN", "business_rules", "Rules the product must enforce."),
		leaf("DOMAIN", "terminology", "Project vocabulary and what it refers to."),
		leaf("DOMAIN", "requirements", "Functional and non-functional requirements."),
		leaf("DOMAIN", "constraints", "External constraints: compliance, limits, compatibility."),
	}},
	{"PREFERENCES", [4]Leaf{
		leaf("PREFERENCES", "coding_style", "Stylistic choices the user prefers."),
		leaf("PREFERENCES", "libraries", "Preferred and rejected libraries."),
		leaf("PREFERENCES", "communication", "How the user likes answers to be shaped."),
		leaf("PREFERENCES", "review", "What the user checks for during review."),
	}},
}

// Categories returns the category names in taxonomy order.
func Categories() []string {
	out := make([]string, len(tree))
	for i, c := range tree {
		out[i] = c.name
	}
	return out
}

// Subcategories returns the subcategories of category, or nil if it is unknown.
func Subcategories(category string) []string {
	for _, c := range tree {
		if c.name != category {
			continue
		}
		out := make([]string, len(c.leaves))
		for i, l := range c.leaves {
			out[i] = l.Subcategory
		}
		return out
	}
	return nil
}

// Leaves returns all buckets in taxonomy order.
func Leaves() []Leaf {
	out := make([]Leaf, 0, len(tree)*4)
	for _, c := range tree {
		out = append(out, c.leaves[:]...)
	}
	return out
}

// Lookup returns the leaf for category/subcategory.
func Lookup(category, subcategory string) (Leaf, bool) {
	for _, c := range tree {
		if c.name != category {
			continue
		}
		for _, l := range c.leaves {
			if l.Subcategory == subcategory {
				return l, true
			}
		}
		return Leaf{}, false
	}
	return Leaf{}, false
}

// IsCategory reports whether name is one of the fixed categories.
func IsCategory(name string) bool {
	return Subcategories(name) != nil
}

// Contains reports whether category/subcategory is a member of the taxonomy.
func Contains(category, subcategory string) bool {
	_, ok := Lookup(category, subcategory)
	return ok
}

// ParseKey splits a "CATEGORY/subcategory" key and checks membership.
func ParseKey(key string) (Leaf, error) {
	cat, sub, ok := strings.Cut(key, "/")
	if !ok {
		return Leaf{}, fmt.Errorf("taxonomy: malformed key %q", key)
	}
	l, found := Lookup(cat, sub)
	if !found {
		return Leaf{}, fmt.Errorf("taxonomy: unknown bucket %q", key)
	}
	return l, nil
}

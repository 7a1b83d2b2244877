package static

import _ "embed"

// SkillMd contains the embedded skill.md file describing the webhook protocol for agents.
//
//go:embed skill.md
var SkillMd string

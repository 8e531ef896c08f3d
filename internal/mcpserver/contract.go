package mcpserver

// NoteFormatContract describes the canonical Markdown note format that
// LLM consumers should follow when creating or updating notes.
const NoteFormatContract = `# Othala Note Format Contract

Every Markdown note stored in Othala MUST follow this structure.

## Structure

` + "```" + `markdown
---
type: note                          # REQUIRED – note kind (note, daily, observation, proposal, rollup)
title: Human-readable title         # OPTIONAL – falls back to the first H1 heading
tags:                               # OPTIONAL – YAML list; used for filtering
  - tag-one
  - tag-two
created: 2025-01-15                 # OPTIONAL – ISO-8601 date or datetime
---

Body text in standard Markdown.

Use [[wikilinks]] to reference other notes (without .md extension).
Use [[target|alias]] for display text that differs from the target.
` + "```" + `

## Rules

1. **YAML frontmatter is mandatory.** The ` + "`" + `---` + "`" + ` fences must be the first
   thing in the file (no leading blank lines).
2. **Wikilinks** use double brackets: ` + "`" + `[[other-note]]` + "`" + `. The target is the
   note id (no ` + "`" + `.md` + "`" + ` extension, path separators OK: ` + "`" + `[[folder/note]]` + "`" + `).
   ` + "`" + `[[target#heading]]` + "`" + ` and ` + "`" + `[[target^block]]` + "`" + ` address a location inside
   the target; ` + "`" + `![[target]]` + "`" + ` embeds instead of linking.
3. **Tags** are lowercase, kebab-case (e.g. ` + "`" + `project-x` + "`" + `, ` + "`" + `meeting-notes` + "`" + `).
4. **Note ids** use forward slashes and English (Latin) characters; body
   content may use any language.
5. **Encoding** is UTF-8 with a trailing newline.

## Machine-owned backlink state — DO NOT EDIT

Othala maintains two derived pieces of state in every note. Never
write, edit, or remove them yourself; they are recomputed automatically
whenever any note linking here changes:

1. The region between ` + "`" + `<!-- backlinks:start -->` + "`" + ` and
   ` + "`" + `<!-- backlinks:end -->` + "`" + ` in the body. Treat everything between the
   markers (including the markers) as read-only.
2. The ` + "`" + `referencedBy` + "`" + ` frontmatter field, which mirrors the same list.

When updating a note, carry the existing backlinks section and
` + "`" + `referencedBy` + "`" + ` field over verbatim, or omit them entirely and let the
system restore them on the next propagation pass.

## Example

` + "```" + `markdown
---
type: note
title: Weekly standup 2025-01-20
tags:
  - meeting-notes
  - project-x
created: 2025-01-20
---

# Weekly standup 2025-01-20

Attendees: Alice, Bob.

## Action items

- [[alice]] to review the [[design-doc]]
- Bob to update [[project-x/roadmap|the roadmap]]
` + "```" + `
`

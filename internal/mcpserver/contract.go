package mcpserver

// NoteRules describes how notes are named and stored, and what the recovery
// tools report, for LLM consumers of the MCP server.
const NoteRules = `# Garnicia Note Rules

Notes are plain-text files in a single flat folder.

## Names

1. A note name is its file name. There are no extensions and no sub-folders.
2. Names are lowercase. Input is trimmed and lowercased before use.
3. Allowed characters: ` + "`a-z 0-9 . _ -`" + `, and the first character must be a letter or digit.
4. Two notes may not differ only in letter case.

## Unsaved work

The editor snapshots unsaved buffers into a journal every few seconds.
A note marked with a leading ` + "`*`" + ` in ` + "`list_notes`" + ` has unsaved work.

- ` + "`read_note`" + ` returns the unsaved snapshot when one exists; pass ` + "`source: file`" + ` for the saved file.
- ` + "`list_recoverable`" + ` reports snapshots left by a crash that are newer than their files.
  Kind ` + "`recoverable_as_new`" + ` means the file no longer exists.
- ` + "`discard_recovery`" + ` permanently drops a snapshot. It never touches the note file.

These tools never write note files. Saving is done by the editor.
`

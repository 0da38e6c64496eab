package mcpserver

// GuideURI is the resource holding SettingsGuide.
const GuideURI = "livedesk://settings-guide"

// SettingsGuide describes the console settings for LLM consumers changing
// them through set_setting.
const SettingsGuide = `# livedesk Settings Guide

Settings are addressed as ` + "`" + `<category>.<attribute>` + "`" + `. They persist across
restarts and take effect on the next cycle of the affected loop.

| Key | Type | Default | Meaning |
|---|---|---|---|
| beacon.active | bool | false | Poll the server heartbeat. |
| beacon.interval | int (ms) | 1000 | Delay between heartbeats. |
| messages.queryEnabled | bool | false | Fetch new server messages. |
| messages.interval | int (ms) | 5000 | Delay between message fetches. |
| messages.maxShow | int | 25 | Rows kept in the message panel. |
| preview.active | bool | false | Re-render the note preview while editing. |
| preview.interval | int (ms) | 2500 | Delay between preview renders. |

## Rules

1. Integers must be at least 1. Invalid values are rejected and leave the
   setting unchanged.
2. Lowering ` + "`" + `messages.maxShow` + "`" + ` drops the oldest rows immediately.
3. Disabling a loop stops future requests; a request already in flight still
   completes.
4. Unknown keys are rejected.
`

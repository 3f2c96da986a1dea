package session

// Conversation is an ordered sequence of Messages.
type Conversation struct {
	Messages []Message
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(m Message) {
	c.Messages = append(c.Messages, m)
}

// Consolidate merges consecutive text-only assistant messages produced by
// streaming into a single assistant message. It is idempotent:
// Consolidate(Consolidate(msgs)) == Consolidate(msgs) (§8 property 2).
func Consolidate(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.Role == RoleAssistant && m.Role == RoleAssistant &&
				prev.IsTextOnly() && m.IsTextOnly() {
				prev.Content = []Content{TextContent{Text: prev.Text() + m.Text()}}
				continue
			}
		}
		cp := m
		cp.Content = append([]Content(nil), m.Content...)
		out = append(out, cp)
	}
	return out
}

// PendingToolRequestIDs returns the IDs of tool-requests in msgs that have
// no matching tool-response anywhere in msgs. Per §3, the reply loop
// must never call the provider with these left over from a prior turn.
func PendingToolRequestIDs(msgs []Message) []string {
	requested := map[string]bool{}
	var order []string
	answered := map[string]bool{}
	for _, m := range msgs {
		for _, tr := range m.ToolRequests() {
			if !requested[tr.ID] {
				requested[tr.ID] = true
				order = append(order, tr.ID)
			}
		}
		for _, tr := range m.ToolResponses() {
			answered[tr.ID] = true
		}
	}
	var pending []string
	for _, id := range order {
		if !answered[id] {
			pending = append(pending, id)
		}
	}
	return pending
}

// ValidatePairing checks that every tool-response has a tool-request with
// the same ID earlier in the conversation (§8 property 1). Duplicate
// tool-request IDs are not detected. Returns the first response ID without
// an earlier request, or "" if ok.
func ValidatePairing(msgs []Message) string {
	seenRequest := map[string]bool{}
	for _, m := range msgs {
		for _, tr := range m.ToolRequests() {
			seenRequest[tr.ID] = true
		}
		for _, resp := range m.ToolResponses() {
			if !seenRequest[resp.ID] {
				return resp.ID
			}
		}
	}
	return ""
}

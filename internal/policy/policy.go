// Package policy decides whether an inbound Feishu message is accepted,
// rejected or must go through pairing first. Evaluate is pure: it reads the
// resolved account and the message facts and has no side effects.
package policy

import (
	"sort"
	"strings"

	"github.com/memohai/memoh-feishu/internal/accounts"
	"github.com/memohai/memoh-feishu/internal/identifier"
)

// Outcome is the terminal state of an evaluation.
type Outcome string

const (
	OutcomeAccept          Outcome = "accept"
	OutcomeReject          Outcome = "reject"
	OutcomePairingRequired Outcome = "pairing_required"
)

// Origin tells whether the message came from a direct chat or a group.
type Origin string

const (
	OriginDirect Origin = "direct"
	OriginGroup  Origin = "group"
)

// Reasons attached to decisions, suitable for debug logs.
const (
	ReasonDMDisabled        = "dm disabled"
	ReasonDMPolicyDisabled  = "dm policy disabled"
	ReasonDMOpen            = "dm policy open"
	ReasonDMAllowed         = "sender in dm allowFrom"
	ReasonDMNotAllowed      = "sender not in dm allowFrom"
	ReasonDMPaired          = "sender paired"
	ReasonDMNeedsPairing    = "sender not paired"
	ReasonGroupDisabled     = "group policy disabled"
	ReasonGroupNotListed    = "group not allowed"
	ReasonGroupUserAllowed  = "sender in group users"
	ReasonGroupUserDenied   = "sender not in group users"
	ReasonGroupSenderAllow  = "sender in groupAllowFrom"
	ReasonGroupSenderDenied = "sender not in groupAllowFrom"
	ReasonGroupUnrestricted = "group allowed"
	ReasonGroupMentioned    = "bot mentioned"
	ReasonGroupNotMentioned = "bot not mentioned"
	ReasonUnknownOrigin     = "unknown origin"
)

// Decision is the evaluation result.
type Decision struct {
	Outcome Outcome
	Reason  string
}

// Accepted reports whether the message should be processed.
func (d Decision) Accepted() bool {
	return d.Outcome == OutcomeAccept
}

// Input carries the facts about one inbound message.
type Input struct {
	Origin   Origin
	SenderID string
	// SenderIDs are further ids of the same sender (union id, user id). An
	// allowlist entry matching any of them matches the sender.
	SenderIDs []string
	// ChatID and BotMentioned are only consulted for group messages.
	ChatID       string
	BotMentioned bool
	// PairedSenders are senders approved through pairing; they count as
	// allowFrom entries under the pairing DM policy only.
	PairedSenders []string
}

// Evaluate applies the account's DM or group policy to in.
func Evaluate(account accounts.ResolvedAccount, in Input) Decision {
	switch in.Origin {
	case OriginDirect:
		return evaluateDirect(account.Config, in)
	case OriginGroup:
		return evaluateGroup(account.Config, in)
	default:
		return reject(ReasonUnknownOrigin)
	}
}

func evaluateDirect(cfg accounts.AccountConfig, in Input) Decision {
	dm := accounts.DMConfig{}
	if cfg.DM != nil {
		dm = *cfg.DM
	}
	if dm.Enabled != nil && !*dm.Enabled {
		return reject(ReasonDMDisabled)
	}
	switch normalizeDMPolicy(dm.Policy) {
	case accounts.DMPolicyDisabled:
		return reject(ReasonDMPolicyDisabled)
	case accounts.DMPolicyOpen:
		return accept(ReasonDMOpen)
	case accounts.DMPolicyPairing:
		if in.matches(dm.AllowFrom) {
			return accept(ReasonDMAllowed)
		}
		if in.matches(in.PairedSenders) {
			return accept(ReasonDMPaired)
		}
		return Decision{Outcome: OutcomePairingRequired, Reason: ReasonDMNeedsPairing}
	default:
		if in.matches(dm.AllowFrom) {
			return accept(ReasonDMAllowed)
		}
		return reject(ReasonDMNotAllowed)
	}
}

func evaluateGroup(cfg accounts.AccountConfig, in Input) Decision {
	switch normalizeGroupPolicy(cfg.GroupPolicy) {
	case accounts.GroupPolicyDisabled:
		return reject(ReasonGroupDisabled)
	case accounts.GroupPolicyOpen:
		if in.BotMentioned {
			return accept(ReasonGroupMentioned)
		}
		return reject(ReasonGroupNotMentioned)
	}
	group, ok := LookupGroup(cfg.Groups, in.ChatID)
	if !ok || group.Allow == nil || !*group.Allow {
		return reject(ReasonGroupNotListed)
	}
	if hasEntries(group.Users) {
		if in.matches(group.Users) {
			return accept(ReasonGroupUserAllowed)
		}
		return reject(ReasonGroupUserDenied)
	}
	if !hasEntries(cfg.GroupAllowFrom) {
		return accept(ReasonGroupUnrestricted)
	}
	if in.matches(cfg.GroupAllowFrom) {
		return accept(ReasonGroupSenderAllow)
	}
	return reject(ReasonGroupSenderDenied)
}

func (in Input) matches(entries []string) bool {
	if identifier.Matches(entries, in.SenderID) {
		return true
	}
	for _, id := range in.SenderIDs {
		if strings.TrimSpace(id) != "" && identifier.Matches(entries, id) {
			return true
		}
	}
	return false
}

// LookupGroup finds the GroupConfig for chatID: exact key first, then a key
// equal under identifier normalization (so "chat:oc_1" configures "oc_1").
func LookupGroup(groups map[string]accounts.GroupConfig, chatID string) (accounts.GroupConfig, bool) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" || len(groups) == 0 {
		return accounts.GroupConfig{}, false
	}
	if group, ok := groups[chatID]; ok {
		return group, true
	}
	want := identifier.Key(chatID)
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if identifier.Key(key) == want {
			return groups[key], true
		}
	}
	return accounts.GroupConfig{}, false
}

// normalizeDMPolicy defaults an unset policy to pairing and an unrecognized
// one to allowlist.
func normalizeDMPolicy(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return accounts.DMPolicyPairing
	case accounts.DMPolicyPairing, accounts.DMPolicyAllowlist, accounts.DMPolicyOpen, accounts.DMPolicyDisabled:
		return value
	default:
		return accounts.DMPolicyAllowlist
	}
}

func normalizeGroupPolicy(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case accounts.GroupPolicyOpen, accounts.GroupPolicyDisabled:
		return value
	default:
		return accounts.GroupPolicyAllowlist
	}
}

func hasEntries(list []string) bool {
	for _, entry := range list {
		if strings.TrimSpace(entry) != "" {
			return true
		}
	}
	return false
}

func accept(reason string) Decision {
	return Decision{Outcome: OutcomeAccept, Reason: reason}
}

func reject(reason string) Decision {
	return Decision{Outcome: OutcomeReject, Reason: reason}
}

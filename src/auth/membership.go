package auth

import (
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomversion"
	"github.com/tidwall/gjson"
)

// authorizeMembership applies the membership legality matrix. e is an
// m.room.member event; its state_key names the target user.
func authorizeMembership(e *event.Event, rv roomversion.Version, s StateProvider) error {
	if !e.IsState() || e.StateKeyValue() == "" {
		return rejectStructural("member event without target state_key")
	}

	target := e.StateKeyValue()
	newMembership := e.Membership()
	if newMembership == "" {
		return rejectStructural("member event without membership")
	}

	create := s.Create()
	pl := loadPowerLevels(s)
	senderLevel := pl.userLevel(create, e.Sender)
	targetLevel := pl.userLevel(create, target)

	senderMembership := membershipOf(s.Member(e.Sender))
	targetMembership := membershipOf(s.Member(target))

	joinRule := event.JoinRuleInvite
	if jr := s.JoinRules(); jr != nil {
		joinRule = jr.JoinRule()
	}

	switch newMembership {
	case event.MembershipJoin:
		return authorizeJoin(e, rv, s, create, joinRule, targetMembership)

	case event.MembershipInvite:
		if token := gjson.GetBytes(e.Content, "third_party_invite.signed.token"); token.Exists() {
			if s.ThirdPartyInvite(token.String()) == nil {
				return reject("no matching third-party invite for token")
			}
			return nil
		}
		if senderMembership != event.MembershipJoin {
			return reject("inviter %s is not joined", e.Sender)
		}
		if targetMembership == event.MembershipJoin {
			return reject("cannot invite a joined user")
		}
		if targetMembership == event.MembershipBan {
			return reject("cannot invite a banned user")
		}
		if senderLevel < pl.invite {
			return reject("sender level %d below invite level %d", senderLevel, pl.invite)
		}
		return nil

	case event.MembershipLeave:
		if e.Sender == target {
			// Leaving is always legal for self, except a ban cannot be
			// shaken off by leaving.
			if targetMembership == event.MembershipBan {
				return reject("banned user cannot leave")
			}
			return nil
		}
		// Kick, or unban when the target is currently banned.
		if senderMembership != event.MembershipJoin {
			return reject("kicker %s is not joined", e.Sender)
		}
		if targetMembership == event.MembershipBan {
			if senderLevel < pl.ban {
				return reject("sender level %d below ban level %d for unban", senderLevel, pl.ban)
			}
		} else if senderLevel < pl.kick {
			return reject("sender level %d below kick level %d", senderLevel, pl.kick)
		}
		if senderLevel <= targetLevel {
			return reject("cannot kick a user at or above own level")
		}
		return nil

	case event.MembershipBan:
		if senderMembership != event.MembershipJoin {
			return reject("banner %s is not joined", e.Sender)
		}
		if senderLevel < pl.ban {
			return reject("sender level %d below ban level %d", senderLevel, pl.ban)
		}
		if senderLevel <= targetLevel {
			return reject("cannot ban a user at or above own level")
		}
		return nil

	case event.MembershipKnock:
		if !rv.AllowKnocking {
			return reject("room version %s does not allow knocking", rv.ID)
		}
		if joinRule != event.JoinRuleKnock {
			return reject("join rule %s does not allow knocking", joinRule)
		}
		if e.Sender != target {
			return reject("cannot knock on behalf of another user")
		}
		if targetMembership == event.MembershipBan || targetMembership == event.MembershipJoin {
			return reject("cannot knock while %s", targetMembership)
		}
		return nil

	default:
		return rejectStructural("unknown membership %q", newMembership)
	}
}

func authorizeJoin(e *event.Event, rv roomversion.Version, s StateProvider, create *event.Event, joinRule, targetMembership string) error {
	target := e.StateKeyValue()

	if e.Sender != target {
		return reject("cannot join on behalf of another user")
	}
	if targetMembership == event.MembershipBan {
		return reject("banned user cannot join")
	}
	if targetMembership == event.MembershipJoin {
		// Profile update of an already-joined user.
		return nil
	}

	// The creator's first join bootstraps the room before any join rules
	// exist.
	if create != nil && creatorOf(create) == target && s.Member(target) == nil {
		return nil
	}

	switch joinRule {
	case event.JoinRulePublic:
		return nil
	case event.JoinRuleInvite, event.JoinRuleKnock:
		if targetMembership == event.MembershipInvite {
			return nil
		}
		return reject("join rule %s requires an outstanding invite", joinRule)
	case event.JoinRuleRestricted:
		if !rv.AllowRestrictedJoins {
			return reject("room version %s does not allow restricted joins", rv.ID)
		}
		if targetMembership == event.MembershipInvite {
			return nil
		}
		authoriser := gjson.GetBytes(e.Content, "join_authorised_via_users_server").String()
		if authoriser == "" {
			return reject("restricted join without authorising user")
		}
		authMember := s.Member(authoriser)
		if authMember == nil || authMember.Membership() != event.MembershipJoin {
			return reject("authorising user %s is not joined", authoriser)
		}
		pl := loadPowerLevels(s)
		if pl.userLevel(create, authoriser) < pl.invite {
			return reject("authorising user %s cannot invite", authoriser)
		}
		return nil
	default:
		return reject("join rule %s does not allow joining", joinRule)
	}
}

func membershipOf(member *event.Event) string {
	if member == nil {
		return ""
	}
	return member.Membership()
}

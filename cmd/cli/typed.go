package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/navcom/groupctl/internal/model"
	grpcserver "github.com/navcom/groupctl/internal/server/grpc"
)

var hexPubkey = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

func checkPubkey(p string) error {
	if !hexPubkey.MatchString(p) {
		return fmt.Errorf("pubkey must be 64 hex characters, got %q", p)
	}
	return nil
}

var actions = []model.Action{
	model.ActionCreate,
	model.ActionJoin,
	model.ActionLeave,
	model.ActionPutMember,
	model.ActionRemoveMember,
	model.ActionEditMetadata,
}

func isAction(s string) bool {
	for _, a := range actions {
		if string(a) == s {
			return true
		}
	}
	return false
}

// parseMode accepts short names and wire names. Empty means baseline.
func parseMode(s string) (model.TransportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "baseline", string(model.ModeBaseline):
		return model.ModeBaseline, nil
	case "secure", string(model.ModeSecure):
		return model.ModeSecure, nil
	}
	return "", fmt.Errorf("unknown mode %q (baseline|secure)", s)
}

// buildDispatch parses the flags of one action subcommand.
func buildDispatch(action model.Action, args []string) (grpcserver.DispatchRequest, error) {
	fs := flag.NewFlagSet(string(action), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	group := fs.String("group", "", "group id")
	title := fs.String("title", "", "group title")
	desc := fs.String("description", "", "group description")
	picture := fs.String("picture", "", "group picture url")
	member := fs.String("member", "", "member pubkey (hex)")
	role := fs.String("role", "", "member role")
	reason := fs.String("reason", "", "reason")
	mode := fs.String("mode", "", "requested mode (baseline|secure)")
	tier := fs.Int("tier", -1, "mission tier 0..2 (server default when unset)")
	confirm := fs.Bool("confirm-downgrade", false, "confirm a downgrade for tier 1")
	override := fs.Bool("tier2-override", false, "allow a tier 2 override")
	noFallback := fs.Bool("no-fallback", false, "disallow capability fallback")
	retries := fs.Int("retries", 0, "extra attempts on retryable failures")
	if err := fs.Parse(args); err != nil {
		return grpcserver.DispatchRequest{}, err
	}

	if *group == "" {
		return grpcserver.DispatchRequest{}, errors.New("need -group")
	}
	if action.TargetsMember() && action != model.ActionJoin && action != model.ActionLeave {
		if err := checkPubkey(*member); err != nil {
			return grpcserver.DispatchRequest{}, err
		}
	}
	m, err := parseMode(*mode)
	if err != nil {
		return grpcserver.DispatchRequest{}, err
	}
	req := grpcserver.DispatchRequest{
		Action: action,
		Payload: model.Payload{
			GroupID:      *group,
			Title:        *title,
			Description:  *desc,
			Picture:      *picture,
			MemberPubkey: strings.ToLower(*member),
			Role:         model.Role(*role),
			Reason:       *reason,
		},
		RequestedMode:      m,
		DowngradeConfirmed: *confirm,
		AllowTier2Override: *override,
		DisallowFallback:   *noFallback,
		Retries:            *retries,
	}
	if *tier >= 0 {
		t := model.MissionTier(*tier)
		if !t.Valid() {
			return grpcserver.DispatchRequest{}, fmt.Errorf("tier must be 0, 1 or 2, got %d", *tier)
		}
		req.Tier = &t
	}
	return req, nil
}

// buildRevoke parses the flags of the revoke subcommand.
func buildRevoke(args []string) (grpcserver.RevokeDeviceRequest, error) {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	group := fs.String("group", "", "group id")
	pub := fs.String("pubkey", "", "compromised device pubkey (hex)")
	reason := fs.String("reason", "", "reason")
	mode := fs.String("mode", "", "requested mode for the removal")
	if err := fs.Parse(args); err != nil {
		return grpcserver.RevokeDeviceRequest{}, err
	}
	if *group == "" {
		return grpcserver.RevokeDeviceRequest{}, errors.New("need -group")
	}
	if err := checkPubkey(*pub); err != nil {
		return grpcserver.RevokeDeviceRequest{}, err
	}
	m, err := parseMode(*mode)
	if err != nil {
		return grpcserver.RevokeDeviceRequest{}, err
	}
	return grpcserver.RevokeDeviceRequest{
		GroupID:           *group,
		CompromisedPubkey: strings.ToLower(*pub),
		Reason:            *reason,
		RequestedMode:     m,
	}, nil
}

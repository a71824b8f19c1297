package server

import (
	"context"
	"fmt"
	"time"

	"github.com/openleash/openleash/pkg/audit"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
	"github.com/openleash/openleash/pkg/store"
)

// DefaultDenyPolicy is bound to the default owner on first start.
const DefaultDenyPolicy = "version: 1\ndefault: deny\nrules: []\n"

// BootstrapResult describes what Bootstrap created.
type BootstrapResult struct {
	Created          bool
	KID              string
	OwnerPrincipalID string
	PolicyID         string
}

// Bootstrap initializes an empty store with a signing key, a "Default Owner"
// and a default-deny policy bound to that owner, in one transaction. It is a
// no-op on a store that has already been initialized.
func Bootstrap(ctx context.Context, st *store.SQLStore, recorder audit.Recorder) (*BootstrapResult, error) {
	done, err := st.Initialized(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	if done {
		kid, err := st.ActiveKID(ctx)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return &BootstrapResult{KID: kid}, nil
	}
	if recorder == nil {
		recorder = audit.Nop
	}

	key, err := crypto.GenerateServerKey(time.Now())
	if err != nil {
		return nil, fmt.Errorf("bootstrap: signing key: %w", err)
	}
	owner, policy, err := st.Initialize(ctx, store.InitialState{
		Key: key,
		Owner: store.NewOwner{
			PrincipalType: contracts.PrincipalHuman,
			DisplayName:   "Default Owner",
		},
		PolicyYAML: DefaultDenyPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	_ = recorder.Record(ctx, contracts.AuditOwnerCreated, map[string]any{
		"owner_principal_id": owner.OwnerPrincipalID,
		"display_name":       owner.DisplayName,
	}, audit.Refs{PrincipalID: owner.OwnerPrincipalID})
	_ = recorder.Record(ctx, contracts.AuditPolicyUpserted, map[string]any{
		"policy_id":          policy.PolicyID,
		"owner_principal_id": owner.OwnerPrincipalID,
	}, audit.Refs{PrincipalID: owner.OwnerPrincipalID})

	return &BootstrapResult{
		Created:          true,
		KID:              key.KID,
		OwnerPrincipalID: owner.OwnerPrincipalID,
		PolicyID:         policy.PolicyID,
	}, nil
}

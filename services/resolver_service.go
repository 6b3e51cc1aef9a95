package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
)

const loginNamePrefix = "fed_"

// maxLoginSuffix bounds the collision probe when deriving login names.
const maxLoginSuffix = 100

// ResolverService maps a federated identity to a local account, creating
// one when auto-provisioning allows it.
type ResolverService struct {
	accountRepo   domain.AccountRepository
	autoProvision bool
}

// NewResolverService creates a ResolverService.
func NewResolverService(accountRepo domain.AccountRepository, autoProvision bool) *ResolverService {
	return &ResolverService{
		accountRepo:   accountRepo,
		autoProvision: autoProvision,
	}
}

// Resolve finds or creates the local account for an external identity.
// Match order, first wins:
//  1. exact (provider config, open id);
//  2. union id alone, covering re-authorization through a sibling app of
//     the same vendor — the missing open id is backfilled onto the match;
//  3. auto-provision a new account, when enabled;
//  4. ProvisioningDisabled.
//
// Profile fields are refreshed on every call as last-observed data.
func (s *ResolverService) Resolve(ctx context.Context, providerConfigID, externalOpenID, externalUnionID string, profile domain.Profile) (*domain.LocalAccount, error) {
	account, err := s.accountRepo.GetByOpenID(ctx, providerConfigID, externalOpenID)
	if err == nil {
		return s.refresh(ctx, account, externalUnionID, profile)
	}
	if !errors.Is(err, serrors.ErrAccountNotFound) {
		return nil, err
	}

	if externalUnionID != "" {
		account, err = s.accountRepo.GetByUnionID(ctx, externalUnionID)
		if err == nil {
			// Same vendor, different app: bind the new open id.
			account.ProviderConfigID = providerConfigID
			account.ExternalOpenID = externalOpenID
			log.Info().
				Str("account_id", account.ID).
				Str("union_id", externalUnionID).
				Msg("Backfilled open id onto union-id matched account")
			return s.refresh(ctx, account, externalUnionID, profile)
		}
		if !errors.Is(err, serrors.ErrAccountNotFound) {
			return nil, err
		}
	}

	if !s.autoProvision {
		return nil, serrors.NewProvisioningDisabled()
	}
	return s.provision(ctx, providerConfigID, externalOpenID, externalUnionID, profile)
}

func (s *ResolverService) refresh(ctx context.Context, account *domain.LocalAccount, externalUnionID string, profile domain.Profile) (*domain.LocalAccount, error) {
	if externalUnionID != "" && account.ExternalUnionID == "" {
		account.ExternalUnionID = externalUnionID
	}
	account.Profile = profile
	if profile.DisplayName != "" {
		account.DisplayName = profile.DisplayName
	}
	if err := s.accountRepo.Update(ctx, account); err != nil {
		// Profile refresh is opportunistic; the resolve itself stands.
		log.Warn().Err(err).Str("account_id", account.ID).Msg("Failed to refresh account profile")
	}
	return account, nil
}

func (s *ResolverService) provision(ctx context.Context, providerConfigID, externalOpenID, externalUnionID string, profile domain.Profile) (*domain.LocalAccount, error) {
	// The local credential is a random value hashed and thrown away, so
	// password login can never succeed for this account.
	random, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}
	credential, err := bcrypt.GenerateFromPassword([]byte(random), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	displayName := profile.DisplayName
	if displayName == "" && len(externalOpenID) >= 8 {
		displayName = "user_" + externalOpenID[len(externalOpenID)-8:]
	}

	account := &domain.LocalAccount{
		LoginName:        loginNamePrefix + externalOpenID,
		DisplayName:      displayName,
		CredentialHash:   string(credential),
		FederationOnly:   true,
		ProviderConfigID: providerConfigID,
		ExternalOpenID:   externalOpenID,
		ExternalUnionID:  externalUnionID,
		Profile:          profile,
	}

	for suffix := 0; ; suffix++ {
		if suffix > 0 {
			account.LoginName = fmt.Sprintf("%s%s_%d", loginNamePrefix, externalOpenID, suffix)
		}
		err := s.accountRepo.Create(ctx, account)
		if err == nil {
			break
		}
		if errors.Is(err, serrors.ErrDuplicateLoginName) && suffix < maxLoginSuffix {
			continue
		}
		if errors.Is(err, serrors.ErrDuplicateIdentity) {
			// Lost a race with a concurrent first login; use the winner.
			return s.accountRepo.GetByOpenID(ctx, providerConfigID, externalOpenID)
		}
		return nil, err
	}

	log.Info().
		Str("account_id", account.ID).
		Str("login_name", account.LoginName).
		Msg("Provisioned account from federated identity")
	return account, nil
}

package config

import (
	"fmt"

	"github.com/ManuelReschke/PayProxy/internal/pkg/codec"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/ManuelReschke/PayProxy/internal/pkg/signature"
)

// KeyRing decodes the configured vault keys. Secret keys are optional; the
// service only ever encrypts.
func (c *Config) KeyRing() (*codec.KeyRing, error) {
	keys := make([]codec.StorageKey, 0, len(c.Storage.Keys))
	for _, k := range c.Storage.Keys {
		if k.Public == "" {
			return nil, fmt.Errorf("storage key %d: public key not configured", k.ID)
		}
		pub, err := codec.ParseKey(k.Public)
		if err != nil {
			return nil, fmt.Errorf("storage key %d public key: %w", k.ID, err)
		}
		key := codec.StorageKey{ID: k.ID, Public: pub}
		if k.Secret != "" {
			if key.Secret, err = codec.ParseKey(k.Secret); err != nil {
				return nil, fmt.Errorf("storage key %d secret key: %w", k.ID, err)
			}
		}
		keys = append(keys, key)
	}
	return codec.NewKeyRing(c.Storage.ActiveKeyID, keys...)
}

// PlatformCodec decodes the keypair shared with the platform.
func (c *Config) PlatformCodec() (*codec.PlatformCodec, error) {
	if c.Platform.SecretKey == "" || c.Platform.PublicKey == "" {
		return nil, fmt.Errorf("PERMA_PAYMENTS_SECRET_KEY and PERMA_PUBLIC_KEY are required")
	}
	own, err := codec.ParseKey(c.Platform.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("PERMA_PAYMENTS_SECRET_KEY: %w", err)
	}
	platform, err := codec.ParseKey(c.Platform.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("PERMA_PUBLIC_KEY: %w", err)
	}
	return codec.NewPlatformCodec(own, platform), nil
}

func (c *Config) Signer() (*signature.Signer, error) {
	s, err := signature.NewSigner(c.Processor.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("CS_SECRET_KEY: %w", err)
	}
	return s, nil
}

// PaymentsOptions maps the subscription and processor settings onto the
// payments service options.
func (c *Config) PaymentsOptions(signer payments.OutboundSigner, storage payments.StorageEncrypter) (payments.Options, error) {
	loc, err := c.Subscriptions.Location()
	if err != nil {
		return payments.Options{}, err
	}
	return payments.Options{
		Processor: payments.Processor{
			Mode:      c.Processor.Mode,
			AccessKey: c.Processor.AccessKey,
			ProfileID: c.Processor.ProfileID,
		},
		Signer:                       signer,
		Storage:                      storage,
		GraceDays:                    c.Subscriptions.GraceDays,
		RaiseIfMultipleSubscriptions: c.Subscriptions.RaiseIfMultipleSubscriptions,
		RaiseIfSubscriptionNotFound:  c.Subscriptions.RaiseIfSubscriptionNotFound,
		PreventMultipleSubscriptions: c.Subscriptions.PreventMultipleSubscriptions,
		ReferencePrefix:              c.Subscriptions.ReferencePrefix,
		Location:                     loc,
	}, nil
}

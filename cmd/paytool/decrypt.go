package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/codec"
	"github.com/ManuelReschke/PayProxy/internal/pkg/s3backup"
	"github.com/spf13/cobra"
)

const archiveKeyIDMetadata = "encryption-key-id"

type responseSource interface {
	GetResponse(ctx context.Context, id uint) (*models.Response, error)
}

type storageDecrypter interface {
	DecryptFromStorage(ciphertext []byte, keyID int) ([]byte, error)
}

type archiveReader interface {
	GetObject(ctx context.Context, objectKey string) ([]byte, map[string]string, error)
}

func decryptResponseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt-response <id>",
		Short: "Decrypt the full processor response stored with a response record",
		Long: `Decrypt the sealed processor response of one stored response record.
Needs the vault secret key of the key id the record was sealed with.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid response id %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			storage, err := storageCodec(cfg)
			if err != nil {
				return err
			}
			_, repo, err := connect(cfg)
			if err != nil {
				return err
			}
			return decryptResponse(cmd.Context(), repo, storage, uint(id), cmd.OutOrStdout())
		},
	}
}

func decryptArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt-archive <object-key>",
		Short: "Decrypt a processor response from the S3 archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			storage, err := storageCodec(cfg)
			if err != nil {
				return err
			}
			archive, err := s3backup.NewClient(cmd.Context(), &cfg.Archive)
			if err != nil {
				return err
			}
			return decryptArchive(cmd.Context(), archive, storage, args[0], cmd.OutOrStdout())
		},
	}
}

func decryptResponse(ctx context.Context, src responseSource, dec storageDecrypter, id uint, w io.Writer) error {
	resp, err := src.GetResponse(ctx, id)
	if err != nil {
		return fmt.Errorf("load response %d: %w", id, err)
	}
	return writePlaintext(w, dec, resp.FullResponse, resp.EncryptionKeyID)
}

func decryptArchive(ctx context.Context, archive archiveReader, dec storageDecrypter, objectKey string, w io.Writer) error {
	body, metadata, err := archive.GetObject(ctx, objectKey)
	if err != nil {
		return err
	}
	keyID, err := strconv.Atoi(metadata[archiveKeyIDMetadata])
	if err != nil {
		return fmt.Errorf("object %s has no usable %s metadata", objectKey, archiveKeyIDMetadata)
	}
	return writePlaintext(w, dec, body, keyID)
}

func writePlaintext(w io.Writer, dec storageDecrypter, ciphertext []byte, keyID int) error {
	plaintext, err := dec.DecryptFromStorage(ciphertext, keyID)
	if errors.Is(err, codec.ErrNoVaultSecretKey) {
		return fmt.Errorf("set STORAGE_VAULT_SECRET_KEY_%d to decrypt: %w", keyID, err)
	}
	if err != nil {
		return err
	}
	if _, err := w.Write(plaintext); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

package remote

import (
	"context"
	"fmt"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPSession bundles an SFTP client with the SSH connection carrying it.
type SFTPSession struct {
	*sftp.Client
	conn *ssh.Client
}

// OpenSFTP dials t and starts the sftp subsystem.
func OpenSFTP(ctx context.Context, t Target) (*SFTPSession, error) {
	conn, err := Dial(ctx, t)
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("start sftp: %w", err)
	}
	return &SFTPSession{Client: client, conn: conn}, nil
}

// Close shuts down the SFTP client and its SSH connection.
func (s *SFTPSession) Close() error {
	err := s.Client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package livecouch starts a real CouchDB in a container for tests, when the
// USETC environment variable is set.
package livecouch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultImage is the CouchDB image started by DSN.
const DefaultImage = "couchdb:3.3.3"

const (
	adminUser     = "admin"
	adminPassword = "abc123"
	couchPort     = "5984/tcp"
)

// DSN starts a CouchDB container, and returns its URL with admin
// credentials. The test is skipped unless USETC is set. The container is
// terminated when the test ends.
func DSN(t *testing.T) string {
	t.Helper()
	if os.Getenv("USETC") == "" {
		t.Skip("USETC not set, skipping testcontainers")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        DefaultImage,
			ExposedPorts: []string{couchPort},
			WaitingFor:   wait.ForHTTP("/").WithPort(couchPort).WithStartupTimeout(120 * time.Second),
			Env: map[string]string{
				"COUCHDB_USER":     adminUser,
				"COUCHDB_PASSWORD": adminPassword,
			},
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, couchPort)
	if err != nil {
		t.Fatal(err)
	}
	dsn := fmt.Sprintf("http://%s:%s@%s:%s/", adminUser, adminPassword, host, port.Port())
	for _, db := range []string{"_replicator", "_users"} {
		if err := put(ctx, dsn+db); err != nil {
			t.Fatal(err)
		}
	}
	return dsn
}

func put(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close() // nolint:errcheck
	switch res.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusPreconditionFailed:
		return nil
	}
	return fmt.Errorf("failed to create %s: %s", url, res.Status)
}

package trust

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"
)

func ocspResponder(t *testing.T, issuer *x509.Certificate, signer *rsa.PrivateKey, status int, hits *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := ocsp.ParseRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tmpl := ocsp.Response{
			Status:       status,
			SerialNumber: req.SerialNumber,
			ThisUpdate:   time.Now().Add(-time.Minute),
			NextUpdate:   time.Now().Add(time.Hour),
		}
		if status == ocsp.Revoked {
			tmpl.RevokedAt = time.Now().Add(-time.Minute)
		}
		resp, err := ocsp.CreateResponse(issuer, issuer, tmpl, signer)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(resp)
	}))
}

func TestOCSPChecker_Good(t *testing.T) {
	root, rootKey := createTestCert(t, "OCSP Root", true)
	hits := 0
	srv := ocspResponder(t, root, rootKey, ocsp.Good, &hits)
	defer srv.Close()

	leaf := createLeafCert(t, "Leaf", root, rootKey, []string{srv.URL})
	checker := NewOCSPChecker(WithHTTPClient(srv.Client()))

	status, err := checker.Check(context.Background(), leaf, root)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status != StatusGood {
		t.Errorf("status: got %s, want good", status)
	}

	// second call is served from cache
	if _, err := checker.Check(context.Background(), leaf, root); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if hits != 1 {
		t.Errorf("responder hits: got %d, want 1", hits)
	}
	if checker.CacheSize() != 1 {
		t.Errorf("cache size: got %d, want 1", checker.CacheSize())
	}
}

func TestOCSPChecker_Revoked(t *testing.T) {
	root, rootKey := createTestCert(t, "OCSP Root", true)
	hits := 0
	srv := ocspResponder(t, root, rootKey, ocsp.Revoked, &hits)
	defer srv.Close()

	leaf := createLeafCert(t, "Leaf", root, rootKey, []string{srv.URL})
	store := NewEmptyTrustStore(WithOCSPChecker(NewOCSPChecker(WithHTTPClient(srv.Client()))))

	notRevoked, err := store.CheckRevocation(context.Background(), leaf, root)
	if err != nil {
		t.Fatalf("CheckRevocation failed: %v", err)
	}
	if notRevoked {
		t.Error("expected revoked certificate")
	}
}

func TestOCSPChecker_CacheExpiration(t *testing.T) {
	root, rootKey := createTestCert(t, "OCSP Root", true)
	hits := 0
	srv := ocspResponder(t, root, rootKey, ocsp.Good, &hits)
	defer srv.Close()

	leaf := createLeafCert(t, "Leaf", root, rootKey, []string{srv.URL})
	checker := NewOCSPChecker(WithHTTPClient(srv.Client()), WithCacheTTL(10*time.Millisecond))

	if _, err := checker.Check(context.Background(), leaf, root); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := checker.Check(context.Background(), leaf, root); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if hits != 2 {
		t.Errorf("responder hits: got %d, want 2", hits)
	}
}

func TestOCSPChecker_NoServer(t *testing.T) {
	cert := &x509.Certificate{SerialNumber: big.NewInt(7)}
	if _, err := NewOCSPChecker().Check(context.Background(), cert, cert); err == nil {
		t.Error("expected error without OCSP server")
	}
}

func TestStatusString(t *testing.T) {
	if StatusGood.String() != "good" || StatusRevoked.String() != "revoked" || StatusUnknown.String() != "unknown" {
		t.Error("unexpected status names")
	}
}

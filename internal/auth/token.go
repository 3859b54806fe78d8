package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// tokenIssuer is stamped into every token and required on the way back in.
const tokenIssuer = "helpdesk-service"

// TokenManager signs and verifies the HS256 bearer tokens used by the API,
// the CLI and the Slack bridge.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenManager builds a manager. A non-positive ttl means one hour.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	tm := &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute, now: time.Now}
	tm.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return tm.now() }),
	)
	return tm
}

// Claims carries who the caller is. Staff tokens must name a role; end-user
// tokens must not.
type Claims struct {
	SubjectID string             `json:"sub"`
	Subject   domain.SubjectType `json:"subject"`
	Role      *StaffRole         `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims checks.
func (c *Claims) Validate() error {
	switch c.Subject {
	case domain.SubjectTypeUser:
		if c.Role != nil {
			return errors.New("end-user token carries a staff role")
		}
	case domain.SubjectTypeStaff:
		if c.Role == nil {
			return errors.New("staff token without role")
		}
		if _, err := ParseStaffRole(string(*c.Role)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown token subject %q", c.Subject)
	}
	if c.SubjectID == "" {
		return errors.New("token without subject id")
	}
	return nil
}

// Issue signs a token for the subject and returns it with its expiry.
func (tm *TokenManager) Issue(subjectID string, subject domain.SubjectType, role *StaffRole) (string, time.Time, error) {
	claims := &Claims{SubjectID: subjectID, Subject: subject, Role: role}
	if err := claims.Validate(); err != nil {
		return "", time.Time{}, err
	}
	issuedAt := tm.now()
	expiresAt := issuedAt.Add(tm.ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subjectID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (tm *TokenManager) Verify(token string) (*Claims, error) {
	var claims Claims
	if _, err := tm.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	}); err != nil {
		return nil, err
	}
	return &claims, nil
}

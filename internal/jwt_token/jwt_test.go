package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var subjectService = NewSubjectService("test-signing-key", "test-issuer")

const subject = "eu-west-1:7d6b3c2a"

func Test_IssueAndSubject(t *testing.T) {
	token, err := subjectService.Issue(subject, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := subjectService.Subject(token)
	require.NoError(t, err)
	assert.Equal(t, subject, got)
}

func Test_Subject_InvalidToken(t *testing.T) {
	_, err := subjectService.Subject("invalid-token-string")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_Subject_ExpiredToken(t *testing.T) {
	token, err := subjectService.Issue(subject, -time.Hour)
	require.NoError(t, err)

	_, err = subjectService.Subject(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func Test_Subject_WrongKey(t *testing.T) {
	other := NewSubjectService("another-key", "test-issuer")
	token, err := other.Issue(subject, time.Hour)
	require.NoError(t, err)

	_, err = subjectService.Subject(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_Subject_WrongIssuer(t *testing.T) {
	other := NewSubjectService("test-signing-key", "someone-else")
	token, err := other.Issue(subject, time.Hour)
	require.NoError(t, err)

	_, err = subjectService.Subject(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_Subject_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "test-issuer",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	_, err = subjectService.Subject(signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_Subject_Missing(t *testing.T) {
	token, err := subjectService.Issue("", time.Hour)
	require.NoError(t, err)

	_, err = subjectService.Subject(token)
	require.ErrorIs(t, err, ErrNoSubject)
}

func Test_BearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

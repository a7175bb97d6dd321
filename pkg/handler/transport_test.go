package handler

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/boogy/permission-warden/pkg/authz"
	"github.com/boogy/permission-warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwsApiGateway_Handler(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		body    string
		status  int
		code    string
	}{
		{
			name:    "granted",
			headers: map[string]string{"Authorization": "Bearer " + testToken},
			body:    `{"permission": "get:drinks-detail"}`,
			status:  http.StatusOK,
		},
		{
			name:    "lowercase header name",
			headers: map[string]string{"authorization": "Bearer " + testToken},
			status:  http.StatusOK,
		},
		{
			name:   "missing header",
			body:   `{"permission": "get:drinks"}`,
			status: http.StatusUnauthorized,
			code:   types.CodeMissingHeader,
		},
		{
			name:    "permission not found",
			headers: map[string]string{"Authorization": "Bearer " + testToken},
			body:    `{"permission": "post:drinks"}`,
			status:  http.StatusForbidden,
			code:    types.CodeUnauthorized,
		},
		{
			name:    "invalid body",
			headers: map[string]string{"Authorization": "Bearer " + testToken},
			body:    `not json`,
			status:  http.StatusBadRequest,
			code:    "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &recordingRecorder{}
			h := NewAwsApiGateway(authz.NewAuthorizer(newVerifier(baristaClaims(), nil)), recorder)

			event := events.APIGatewayProxyRequest{
				HTTPMethod: http.MethodPost,
				Path:       "/authorize",
				Headers:    tt.headers,
				Body:       tt.body,
			}
			event.RequestContext.RequestID = "apigw-req"

			resp, err := h.Handler(context.Background(), event)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "apigw-req", resp.Headers["X-Request-ID"])

			body := decodeResponse(t, resp.Body)
			assert.Equal(t, "apigw-req", body.RequestID)
			assert.Equal(t, tt.status == http.StatusOK, body.Success)
			if tt.code != "" {
				require.NotNil(t, body.Error)
				assert.Equal(t, tt.code, body.Error.Code)
			}
		})
	}
}

func TestAwsApiGateway_GeneratesRequestID(t *testing.T) {
	h := NewAwsApiGateway(authz.NewAuthorizer(new(MockVerifier)), nil)

	resp, err := h.Handler(context.Background(), events.APIGatewayProxyRequest{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeResponse(t, resp.Body)
	assert.Len(t, body.RequestID, 36)
}

func TestAwsLambdaUrl_Handler(t *testing.T) {
	recorder := &recordingRecorder{}
	h := NewAwsLambdaUrl(authz.NewAuthorizer(newVerifier(baristaClaims(), nil)), recorder)

	event := events.LambdaFunctionURLRequest{
		RawPath:         "/",
		Headers:         map[string]string{"authorization": "Bearer " + testToken},
		Body:            base64.StdEncoding.EncodeToString([]byte(`{"permission":"get:drinks"}`)),
		IsBase64Encoded: true,
	}
	event.RequestContext.RequestID = "url-req"
	event.RequestContext.HTTP.Method = http.MethodPost

	resp, err := h.Handler(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeResponse(t, resp.Body).Success)

	decisions := recorder.all()
	require.Len(t, decisions, 1)
	assert.Equal(t, SourceLambdaURL, decisions[0].Source)
	assert.Equal(t, "get:drinks", decisions[0].Permission)

	event.Body = "%%%"
	resp, err = h.Handler(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAwsApplicationLoadBalancer_Handler(t *testing.T) {
	h := NewAwsApplicationLoadBalancer(authz.NewAuthorizer(newVerifier(baristaClaims(), nil)), nil)

	t.Run("single value headers", func(t *testing.T) {
		resp, err := h.Handler(context.Background(), events.ALBTargetGroupRequest{
			HTTPMethod: http.MethodPost,
			Path:       "/authorize",
			Headers: map[string]string{
				"authorization":   "Bearer " + testToken,
				"x-amzn-trace-id": "Root=1-abc",
			},
			Body: `{"permission":"get:drinks-detail"}`,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "200 OK", resp.StatusDescription)
		assert.Equal(t, "application/json", resp.Headers["Content-Type"])
		assert.Nil(t, resp.MultiValueHeaders)
		assert.Equal(t, "Root=1-abc", decodeResponse(t, resp.Body).RequestID)
	})

	t.Run("multi value headers", func(t *testing.T) {
		resp, err := h.Handler(context.Background(), events.ALBTargetGroupRequest{
			HTTPMethod: http.MethodPost,
			Path:       "/authorize",
			MultiValueHeaders: map[string][]string{
				"authorization": {"Bearer " + testToken},
			},
			Body: `{"permission":"delete:drinks"}`,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "403 Forbidden", resp.StatusDescription)
		assert.Equal(t, []string{"application/json"}, resp.MultiValueHeaders["Content-Type"])
		assert.Nil(t, resp.Headers)
	})
}

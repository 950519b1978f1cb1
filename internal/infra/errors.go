package infra

import (
	stderrors "errors"

	"github.com/aws/smithy-go"

	"sparkify/pkg/errors"
)

// AWS error codes tolerated by the idempotent create and delete steps.
const (
	codeEntityAlreadyExists     = "EntityAlreadyExists"
	codeNoSuchEntity            = "NoSuchEntity"
	codeClusterAlreadyExists    = "ClusterAlreadyExists"
	codeClusterNotFound         = "ClusterNotFound"
	codeDuplicatePermission     = "InvalidPermission.Duplicate"
	codeBucketAlreadyOwnedByYou = "BucketAlreadyOwnedByYou"
	codeNoSuchBucket            = "NoSuchBucket"
	codeAccessDenied            = "AccessDenied"
)

// apiErrorCode returns the AWS error code carried by err, or "".
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// hasCode reports whether err carries one of codes.
func hasCode(err error, codes ...string) bool {
	code := apiErrorCode(err)
	if code == "" {
		return false
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

// cloudError wraps a failed AWS call, classifying the common codes.
func cloudError(message, resource string, err error) *errors.AppError {
	appErr := errors.CloudError(message, resource, err)
	switch code := apiErrorCode(err); {
	case code == codeAccessDenied || code == "AccessDeniedException" || code == "UnauthorizedOperation":
		appErr.Code = errors.ErrCodeCloudAccessDenied
	case code == codeClusterNotFound || code == codeNoSuchEntity || code == codeNoSuchBucket:
		appErr.Code = errors.ErrCodeCloudNotFound
	case code != "":
		appErr.WithContext("aws_error_code", code)
	}
	return appErr
}

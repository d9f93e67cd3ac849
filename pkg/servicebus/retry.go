package servicebus

type RetryPolicy func(retryCount int, retry func() error) error

/*
Retry runs fn and, while it fails, hands it to the policy up to maxRetries times.
The error of the last attempt is returned.
*/
func Retry(maxRetries int, policy RetryPolicy, fn func() error) error {
	err := fn()
	if err == nil || policy == nil {
		return err
	}
	for retryCount := 1; retryCount <= maxRetries; retryCount++ {
		err = policy(retryCount, fn)
		if err == nil {
			return nil
		}
	}
	return err
}

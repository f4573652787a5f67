// Package rate implements Redis fixed-window counters that throttle password
// sign-in attempts and token refreshes.
//
// A counter is INCR'd and given its TTL on the first hit of a window. Keys:
//   - <prefix>:rl:login:<email>  failed sign-ins per account
//   - <prefix>:rl:ip:<ip>        failed sign-ins per client address
//   - <prefix>:rl:refresh:<sid>  refreshes per session
package rate

// Package filtering selects sources from a list by type, tag and path.
//
// Every dimension has include and exclude rules with the same precedence:
//
//  1. If exclude rules are specified and match -> exclude (precedence)
//  2. If include rules are specified and match -> include
//  3. If include rules are specified but none match -> exclude
//  4. If only exclude rules are specified and none match -> include
//  5. If no rules are specified -> include
//
// A source must pass every dimension (logical AND). Path rules are glob
// patterns in which * also matches across path separators, so
// "https://api.example.com/*" selects every endpoint of that host and
// "*.env" every dotenv-style file.
package filtering

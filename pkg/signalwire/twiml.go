package signalwire

import (
	"encoding/xml"
)

// Response is the root LaML document
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Play    *Play    `xml:"Play,omitempty"`
	Connect *Connect `xml:"Connect,omitempty"`
	Pause   *Pause   `xml:"Pause,omitempty"`
	Hangup  *Hangup  `xml:"Hangup,omitempty"`
}

// Play plays DTMF digits into the call
type Play struct {
	Digits string `xml:"digits,attr"`
}

// Connect bridges the call media to a stream
type Connect struct {
	Stream Stream `xml:"Stream"`
}

// Stream represents a <Stream> element
type Stream struct {
	URL string `xml:"url,attr"`
}

// Pause holds the call silently
type Pause struct {
	Length int `xml:"length,attr"`
}

// Hangup ends the call
type Hangup struct{}

const holdSeconds = 3600

// render marshals the document with an XML header.
func render(r Response) (string, error) {
	out, err := xml.Marshal(r)
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}

// connectedTwiML keeps an answered call up: bridged to the media stream when
// one is configured, otherwise held.
func connectedTwiML(streamURL string) (string, error) {
	if streamURL != "" {
		return render(Response{Connect: &Connect{Stream: Stream{URL: streamURL}}})
	}
	return render(Response{Pause: &Pause{Length: holdSeconds}})
}

// ringingTwiML holds an inbound call until it is answered or rejected.
func ringingTwiML(ringSeconds int) (string, error) {
	return render(Response{Pause: &Pause{Length: ringSeconds}, Hangup: &Hangup{}})
}

// dtmfTwiML plays digits and then returns to the connected flow.
func dtmfTwiML(digits, streamURL string) (string, error) {
	r := Response{Play: &Play{Digits: digits}}
	if streamURL != "" {
		r.Connect = &Connect{Stream: Stream{URL: streamURL}}
	} else {
		r.Pause = &Pause{Length: holdSeconds}
	}
	return render(r)
}

package extraction

const memoryPrompt = `Read the conversation below and pull out what it tells you about the USER. Ignore anything about the character.

Conversation:
%s

Use these types:
- fact: personal information such as name, age, job, location, family
- preference: likes, dislikes, how they want to be treated
- emotion: feelings they shared, struggles, moods
- event: things that happened or will happen to them
- opinion: their views on topics that came up

Rate importance from 0.0 to 1.0:
- 0.9-1.0: identity facts (name, core relationships)
- 0.7-0.8: important or recurring preferences and themes
- 0.5-0.6: interesting but not essential
- 0.3-0.4: minor details

Reply with a JSON array only, for example:
[
  {"type": "fact", "content": "User's name is Sarah", "importance": 0.95},
  {"type": "preference", "content": "User likes long walks", "importance": 0.6}
]

If nothing about the user is clear, reply with [].`

const entityPrompt = `Read the conversation below and list the people, places, organizations and things from the USER's life that they mentioned.

Conversation:
%s

Use these types: person, place, organization, thing, event.
For each one give its relationship to the user and any details.

Reply with a JSON array only, for example:
[
  {"type": "person", "name": "Anna", "relationship": "user's sister", "details": "lives in Boston"},
  {"type": "place", "name": "Boston", "relationship": "where the user lives", "details": ""}
]

If nothing was mentioned, reply with [].`

const systemPrompt = "You extract structured data from conversations. You reply with valid JSON and nothing else."
